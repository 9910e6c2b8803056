package devnet

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-vault/internal/blobstore"
	"github.com/i5heu/ouroboros-vault/pkg/store"
)

// newTxID derives an id from the body and a random salt, so uploading the
// same bytes twice yields two transactions.
func newTxID(body []byte) string {
	salt := uuid.New()
	h := sha256.New()
	h.Write(body)
	h.Write(salt[:])
	return base58.Encode(h.Sum(nil))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "empty body")
		return
	}

	var tags []blobstore.Tag
	if raw := r.Header.Get(store.HeaderTags); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid "+store.HeaderTags+" header")
			return
		}
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := newTxID(body)
	if err := s.blobs.Put(id, contentType, tags, body); err != nil {
		s.log.WithField("id", id).Errorf("store upload: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not store upload")
		return
	}

	s.log.WithFields(logrus.Fields{
		"id":   id,
		"size": len(body),
	}).Info("upload stored")
	writeJSON(w, http.StatusOK, store.Receipt{ID: id, Timestamp: s.clock.Now().UnixMilli()})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	obj, err := s.blobs.Get(id)
	if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrEmptyID) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.WithField("id", id).Errorf("read upload: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Body)))
	for _, t := range obj.Tags {
		if strings.EqualFold(t.Name, "Content-Type") {
			continue
		}
		w.Header().Add("X-Tag-"+t.Name, t.Value)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Body)
}
