package api

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/schema"

	"github.com/skao/dataproduct-api/pkg/types"
)

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrParse),
		errors.Is(err, types.ErrInvalidFilterField):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.GetStatus(r.Context()))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReindex(w http.ResponseWriter, _ *http.Request) {
	state := s.catalog.StartReindex()
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"detail": "reindexing dataproducts",
		"index":  state,
	})
}

type searchResponse struct {
	Records []types.FlattenedRecord `json:"records"`
	Total   int                     `json:"total"`
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	var q types.SimpleSearchQuery
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	s.serveSearch(w, r, q)
}

func (s *Server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var q types.SimpleSearchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	s.serveSearch(w, r, q)
}

func (s *Server) serveSearch(w http.ResponseWriter, r *http.Request, q types.SimpleSearchQuery) {
	records := s.catalog.Search(q, s.groups(r))
	if records == nil {
		records = []types.FlattenedRecord{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Records: records, Total: len(records)})
}

type filterRequest struct {
	FilterModel types.FilterModel `json:"filter_model"`
	Sort        types.Sort        `json:"sort"`
	Page        types.Page        `json:"page"`
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	records, total, err := s.catalog.Filter(req.FilterModel, req.Sort, req.Page, s.groups(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []types.FlattenedRecord{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Records: records, Total: total})
}

func (s *Server) handleFilterFields(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"fields": s.catalog.FilterFields()})
}

type identifierRequest struct {
	UID            string `json:"uid"`
	ExecutionBlock string `json:"execution_block"`
}

func (req identifierRequest) identifier() string {
	if req.UID != "" {
		return req.UID
	}
	return req.ExecutionBlock
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var req identifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.identifier() == "" {
		s.writeError(w, fmt.Errorf("%w: uid or execution_block required", types.ErrValidation))
		return
	}
	recs, err := s.catalog.GetMetadata(r.Context(), req.identifier())
	if err != nil {
		s.writeError(w, err)
		return
	}
	docs := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		docs = append(docs, rec.Document)
	}
	s.writeJSON(w, http.StatusOK, docs)
}

type ingestPathRequest struct {
	RelativePath string `json:"relative_path"`
}

func (s *Server) handleIngestPath(w http.ResponseWriter, r *http.Request) {
	var req ingestPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RelativePath == "" {
		s.writeError(w, fmt.Errorf("%w: relative_path required", types.ErrValidation))
		return
	}
	res, err := s.catalog.IngestFromPath(r.Context(), req.RelativePath)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeIngestResult(w, res)
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	res, err := s.catalog.IngestFromDocument(r.Context(), doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeIngestResult(w, res)
}

func (s *Server) writeIngestResult(w http.ResponseWriter, res types.IngestResult) {
	status := http.StatusOK
	if res.Outcome == types.OutcomeCreated {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]string{
		"uid":     res.UID.String(),
		"outcome": string(res.Outcome),
	})
}

type annotationRequest struct {
	AnnotationID      int64  `json:"annotation_id"`
	DataProductUID    string `json:"data_product_uid"`
	AnnotationText    string `json:"annotation_text"`
	UserPrincipalName string `json:"user_principal_name"`
}

func (s *Server) handleAnnotation(w http.ResponseWriter, r *http.Request) {
	var req annotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	a := &types.Annotation{
		AnnotationID:      req.AnnotationID,
		DataProductUID:    req.DataProductUID,
		AnnotationText:    req.AnnotationText,
		UserPrincipalName: req.UserPrincipalName,
	}
	id, err := s.catalog.UpsertAnnotation(r.Context(), a)
	if errors.Is(err, types.ErrAnnotationsUnavailable) {
		// Without a relational store the annotation cannot be kept; the
		// dashboard treats 202 as "received but not processed".
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"detail": "annotation received but not processed",
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if req.AnnotationID == 0 {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]int64{"annotation_id": id})
}

func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	annotations, err := s.catalog.GetAnnotations(r.Context(), uid)
	if errors.Is(err, types.ErrAnnotationsUnavailable) {
		s.writeJSON(w, http.StatusAccepted, []*types.Annotation{})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if annotations == nil {
		annotations = []*types.Annotation{}
	}
	s.writeJSON(w, http.StatusOK, annotations)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req identifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.identifier() == "" {
		s.writeError(w, fmt.Errorf("%w: uid or execution_block required", types.ErrValidation))
		return
	}
	paths, err := s.catalog.GetProductFilePaths(r.Context(), req.identifier())
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-tar")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", req.identifier()+".tar"))
	w.WriteHeader(http.StatusOK)

	tw := tar.NewWriter(w)
	for _, root := range paths {
		if err := addTree(tw, root); err != nil {
			// Headers already went out; all we can do is log and cut the
			// stream so the client sees a truncated archive.
			s.log.Error().Err(err).Str("dir", root).Msg("download stream failed")
			return
		}
	}
	if err := tw.Close(); err != nil {
		s.log.Error().Err(err).Msg("failed to finalize tar stream")
	}
}

// addTree writes one product directory into the archive, entries named
// relative to the directory's parent so the product folder is the
// archive root.
func addTree(tw *tar.Writer, root string) error {
	base := filepath.Dir(root)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	})
}
