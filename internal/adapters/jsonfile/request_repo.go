// Package jsonfile implements the request repository as a single JSON document
// on the local filesystem.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/ports/secondary"
)

// DefaultFile is the document name used when only a directory is configured.
const DefaultFile = "solicitudes.json"

// solicitud is the on-disk layout of one request. Keys follow the field names
// of the original tracker so existing exports load unchanged.
type solicitud struct {
	ID                 string       `json:"id"`
	Titulo             string       `json:"titulo"`
	Descripcion        string       `json:"descripcion"`
	Solicitante        string       `json:"solicitante"`
	Responsable        string       `json:"responsable"`
	TipoSolicitud      string       `json:"tipo_solicitud"`
	Estado             string       `json:"estado"`
	FechaCreacion      time.Time    `json:"fecha_creacion"`
	FechaActualizacion time.Time    `json:"fecha_actualizacion"`
	Version            int64        `json:"version"`
	Historial          []historial  `json:"historial"`
	Comentarios        []comentario `json:"comentarios"`
}

type historial struct {
	Seq            int64     `json:"seq"`
	Accion         string    `json:"accion"`
	Usuario        string    `json:"usuario"`
	Fecha          time.Time `json:"fecha"`
	Comentario     string    `json:"comentario,omitempty"`
	EstadoAnterior string    `json:"estado_anterior,omitempty"`
}

type comentario struct {
	Seq        int64     `json:"seq"`
	Usuario    string    `json:"usuario"`
	Comentario string    `json:"comentario"`
	Fecha      time.Time `json:"fecha"`
	Tipo       string    `json:"tipo"`
}

// RequestRepository implements secondary.RequestRepository on one JSON file.
// Every write rewrites the whole document through a temp file and rename,
// serialised by a process-wide mutex.
type RequestRepository struct {
	path string
	mu   sync.RWMutex
}

// NewRequestRepository creates a repository backed by the file at path.
// The file and its directory are created on first write.
func NewRequestRepository(path string) *RequestRepository {
	if path == "" {
		path = filepath.Join(".approvals", DefaultFile)
	}
	return &RequestRepository{path: path}
}

// Path returns the backing file.
func (r *RequestRepository) Path() string {
	return r.path
}

func (r *RequestRepository) Create(ctx context.Context, record *secondary.RequestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.load()
	if err != nil {
		return err
	}
	if indexOf(docs, record.ID) >= 0 {
		return fmt.Errorf("failed to create request: id %s already exists", record.ID)
	}

	seq := maxSeq(docs)
	doc := solicitud{
		ID:                 record.ID,
		Titulo:             record.Title,
		Descripcion:        record.Description,
		Solicitante:        record.Requester,
		Responsable:        record.Approver,
		TipoSolicitud:      record.Type,
		Estado:             record.State,
		FechaCreacion:      record.CreatedAt.UTC(),
		FechaActualizacion: record.UpdatedAt.UTC(),
		Version:            1,
	}
	for _, h := range record.History {
		seq++
		h.Seq, h.RequestID = seq, record.ID
		doc.Historial = append(doc.Historial, toHistorial(h))
	}
	for _, c := range record.Comments {
		seq++
		c.Seq, c.RequestID = seq, record.ID
		doc.Comentarios = append(doc.Comentarios, toComentario(c))
	}

	if err := r.save(append(docs, doc)); err != nil {
		return err
	}
	record.Version = 1
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*secondary.RequestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs, err := r.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(docs, id)
	if i < 0 {
		return nil, request.NotFoundError(id)
	}
	return toRecord(docs[i]), nil
}

func (r *RequestRepository) Update(ctx context.Context, update *secondary.RequestUpdate) error {
	return r.swap(update.ID, update.ExpectedVersion, "", func(doc *solicitud, seq *int64) {
		if update.Title != nil {
			doc.Titulo = *update.Title
		}
		if update.Description != nil {
			doc.Descripcion = *update.Description
		}
		if update.Type != nil {
			doc.TipoSolicitud = *update.Type
		}
		doc.FechaActualizacion = update.UpdatedAt.UTC()
		if update.History != nil {
			*seq++
			update.History.Seq, update.History.RequestID = *seq, update.ID
			doc.Historial = append(doc.Historial, toHistorial(update.History))
		}
	})
}

func (r *RequestRepository) ApplyTransition(ctx context.Context, t *secondary.TransitionRecord) error {
	return r.swap(t.ID, t.ExpectedVersion, t.FromState, func(doc *solicitud, seq *int64) {
		doc.Estado = t.ToState
		doc.FechaActualizacion = t.UpdatedAt.UTC()
		if t.History != nil {
			*seq++
			t.History.Seq, t.History.RequestID = *seq, t.ID
			doc.Historial = append(doc.Historial, toHistorial(t.History))
		}
		if t.Comment != nil {
			*seq++
			t.Comment.Seq, t.Comment.RequestID = *seq, t.ID
			doc.Comentarios = append(doc.Comentarios, toComentario(t.Comment))
		}
	})
}

// swap applies mutate when the stored version (and state, if given) match.
func (r *RequestRepository) swap(id string, expectedVersion int64, expectedState string, mutate func(doc *solicitud, seq *int64)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.load()
	if err != nil {
		return err
	}
	i := indexOf(docs, id)
	if i < 0 {
		return request.NotFoundError(id)
	}
	if docs[i].Version != expectedVersion || (expectedState != "" && docs[i].Estado != expectedState) {
		return fmt.Errorf("%w: %s", request.ErrConflict, id)
	}

	seq := maxSeq(docs)
	mutate(&docs[i], &seq)
	docs[i].Version++
	return r.save(docs)
}

// List returns matching requests newest first, each with its history and comments.
func (r *RequestRepository) List(ctx context.Context, filters secondary.RequestFilters) ([]*secondary.RequestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs, err := r.load()
	if err != nil {
		return nil, err
	}

	var matched []solicitud
	for _, d := range docs {
		if filters.State != "" && d.Estado != filters.State {
			continue
		}
		if filters.Type != "" && d.TipoSolicitud != filters.Type {
			continue
		}
		if filters.Requester != "" && d.Solicitante != filters.Requester {
			continue
		}
		if filters.Approver != "" && d.Responsable != filters.Approver {
			continue
		}
		matched = append(matched, d)
	}

	// Documents are appended in creation order, so a stable sort keeps
	// insertion order for equal timestamps; reverse it for newest first.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].FechaCreacion.Before(matched[j].FechaCreacion)
	})
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	if filters.Offset > 0 {
		if filters.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filters.Offset:]
	}
	if filters.Limit > 0 && len(matched) > filters.Limit {
		matched = matched[:filters.Limit]
	}

	records := make([]*secondary.RequestRecord, 0, len(matched))
	for _, d := range matched {
		records = append(records, toRecord(d))
	}
	return records, nil
}

func (r *RequestRepository) Stats(ctx context.Context) (*secondary.StatsRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs, err := r.load()
	if err != nil {
		return nil, err
	}

	stats := &secondary.StatsRecord{Total: len(docs), ByState: make(map[string]int)}
	for _, d := range docs {
		stats.ByState[d.Estado]++
	}
	return stats, nil
}

func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.load()
	if err != nil {
		return err
	}
	i := indexOf(docs, id)
	if i < 0 {
		return request.NotFoundError(id)
	}
	return r.save(append(docs[:i], docs[i+1:]...))
}

func (r *RequestRepository) load() ([]solicitud, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var docs []solicitud
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode store %s: %w", r.path, err)
	}
	return docs, nil
}

// save writes docs to a temp file in the same directory, fsyncs it and
// renames it over the store.
func (r *RequestRepository) save(docs []solicitud) error {
	if docs == nil {
		docs = []solicitud{}
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure store directory: %w", err)
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "tmp-"+filepath.Base(r.path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

func indexOf(docs []solicitud, id string) int {
	for i := range docs {
		if docs[i].ID == id {
			return i
		}
	}
	return -1
}

// maxSeq returns the highest history or comment sequence in the document.
func maxSeq(docs []solicitud) int64 {
	var seq int64
	for _, d := range docs {
		for _, h := range d.Historial {
			seq = max(seq, h.Seq)
		}
		for _, c := range d.Comentarios {
			seq = max(seq, c.Seq)
		}
	}
	return seq
}

func toHistorial(h *secondary.HistoryRecord) historial {
	return historial{
		Seq:            h.Seq,
		Accion:         h.Action,
		Usuario:        h.User,
		Fecha:          h.Timestamp.UTC(),
		Comentario:     h.Comment,
		EstadoAnterior: h.PriorState,
	}
}

func toComentario(c *secondary.CommentRecord) comentario {
	return comentario{
		Seq:        c.Seq,
		Usuario:    c.User,
		Comentario: c.Text,
		Fecha:      c.Timestamp.UTC(),
		Tipo:       c.Category,
	}
}

func toRecord(d solicitud) *secondary.RequestRecord {
	record := &secondary.RequestRecord{
		ID:          d.ID,
		Title:       d.Titulo,
		Description: d.Descripcion,
		Requester:   d.Solicitante,
		Approver:    d.Responsable,
		Type:        d.TipoSolicitud,
		State:       d.Estado,
		CreatedAt:   d.FechaCreacion,
		UpdatedAt:   d.FechaActualizacion,
		Version:     d.Version,
		History:     make([]*secondary.HistoryRecord, 0, len(d.Historial)),
		Comments:    make([]*secondary.CommentRecord, 0, len(d.Comentarios)),
	}

	for _, h := range d.Historial {
		record.History = append(record.History, &secondary.HistoryRecord{
			Seq:        h.Seq,
			RequestID:  d.ID,
			Action:     h.Accion,
			User:       h.Usuario,
			Timestamp:  h.Fecha,
			Comment:    h.Comentario,
			PriorState: h.EstadoAnterior,
		})
	}
	for _, c := range d.Comentarios {
		record.Comments = append(record.Comments, &secondary.CommentRecord{
			Seq:       c.Seq,
			RequestID: d.ID,
			User:      c.Usuario,
			Text:      c.Comentario,
			Timestamp: c.Fecha,
			Category:  c.Tipo,
		})
	}
	sort.SliceStable(record.History, func(i, j int) bool {
		a, b := record.History[i], record.History[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})
	sort.SliceStable(record.Comments, func(i, j int) bool {
		a, b := record.Comments[i], record.Comments[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})
	return record
}

// Ensure RequestRepository implements the interface
var _ secondary.RequestRepository = (*RequestRepository)(nil)
