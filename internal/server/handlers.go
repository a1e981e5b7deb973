package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/uivet/uivet/internal/bus"
	"github.com/uivet/uivet/internal/spec"
	"github.com/uivet/uivet/internal/state"
)

// maxBodyBytes caps request bodies; screenshot uploads carry base64 images.
const maxBodyBytes = 16 << 20

var (
	errBadRequest       = errors.New("bad request")
	errMalformedBody    = fmt.Errorf("%w: malformed JSON body", errBadRequest)
	errScreenshotFields = fmt.Errorf("%w: testId and data are required", errBadRequest)
)

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type testQueuedEnvelope struct {
	Success bool   `json:"success"`
	TestID  string `json:"testId"`
}

type screenshotStoredEnvelope struct {
	Success      bool   `json:"success"`
	ScreenshotID string `json:"screenshotId"`
}

type messageSentEnvelope struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

type screenshotRequest struct {
	TestID   string                   `json:"testId"`
	Data     string                   `json:"data"`
	Metadata state.ScreenshotMetadata `json:"metadata"`
}

func (s *Server) handleQueueTest(w http.ResponseWriter, r *http.Request) {
	var test spec.Test
	if err := s.decodeBody(w, r, &test); err != nil {
		s.writeError(w, err)
		return
	}

	if err := test.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	// Identity is assigned at intake even when the client supplies one.
	test.ID = ""

	id, err := s.engine.QueueTest(&test)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"test_id": id,
		"name":    test.Name,
	}).Info("Test accepted")

	s.writeJSON(w, http.StatusOK, testQueuedEnvelope{Success: true, TestID: id})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.State()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAddScreenshot(w http.ResponseWriter, r *http.Request) {
	var req screenshotRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if req.TestID == "" || req.Data == "" {
		s.writeError(w, errScreenshotFields)
		return
	}

	id, err := s.engine.AddScreenshot(req.TestID, req.Data, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, screenshotStoredEnvelope{Success: true, ScreenshotID: id})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: reading body: %v", errBadRequest, err))
		return
	}

	id, err := s.engine.Broadcast(raw)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, messageSentEnvelope{Success: true, MessageID: id})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}

	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Warn("Failed to write response")
	}
}

// writeError maps validation failures to 400 and everything else, persistence
// included, to 500. Handler errors never escape as bare crashes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, spec.ErrInvalid) || errors.Is(err, bus.ErrInvalidMessage) || errors.Is(err, errBadRequest) {
		status = http.StatusBadRequest
	}

	s.writeJSON(w, status, errorEnvelope{Success: false, Error: err.Error()})
}
