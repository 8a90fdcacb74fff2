package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"omr-grader/internal/logger"
	"omr-grader/internal/omr"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// HealthHandler reports liveness and the active recognition engine.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"engine": s.grader.Clients().Engine.Name(),
	})
}

// GradeHandler grades the sheet uploaded under field against the "key" form value.
func (s *Server) GradeHandler(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.parseForm(w, r); err != nil {
			writeError(w, err)
			return
		}
		raw, err := formImage(r, field)
		if err != nil {
			writeError(w, err)
			return
		}
		key, err := parseKey(r.FormValue("key"))
		if err != nil {
			writeError(w, err)
			return
		}

		res, err := s.grader.GradeSheet(r.Context(), raw, key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// CompareHandler diffs studentSheet against correctSheet.
func (s *Server) CompareHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		writeError(w, err)
		return
	}
	correct, err := formImage(r, "correctSheet")
	if err != nil {
		writeError(w, err)
		return
	}
	student, err := formImage(r, "studentSheet")
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := s.parseTotal(r.FormValue("totalQuestions"))
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.grader.CompareSheets(r.Context(), correct, student, total)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

var errTooLarge = errors.New("upload too large")

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", errTooLarge, s.maxUploadBytes)
		}
		return omr.NewError(omr.KindMissingInput, "parse form", err)
	}
	return nil
}

func formImage(r *http.Request, field string) (omr.RawImage, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return omr.RawImage{}, omr.Errorf(omr.KindMissingInput, "read upload", "field %q: %v", field, err)
	}
	defer file.Close()

	buf, err := io.ReadAll(file)
	if err != nil {
		return omr.RawImage{}, fmt.Errorf("reading %s: %w", field, err)
	}
	return omr.RawImage{Name: header.Filename, Data: buf, Format: declaredFormat(header)}, nil
}

// declaredFormat trusts a JPEG or PNG content type; anything else is left for sniffing.
func declaredFormat(h *multipart.FileHeader) omr.Format {
	if f, ok := omr.ParseFormat(h.Header.Get("Content-Type")); ok {
		return f
	}
	return ""
}

// parseKey accepts a JSON array (["A","B"]) or the letter forms of ParseAnswerKey.
func parseKey(s string) (omr.AnswerKey, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return omr.ParseAnswerKey(s), nil
	}
	var entries []string
	if err := json.Unmarshal([]byte(s), &entries); err != nil {
		return nil, omr.NewError(omr.KindInvalidKey, "parse key", err)
	}
	key := make(omr.AnswerKey, len(entries))
	for i, e := range entries {
		key[i] = strings.ToUpper(strings.TrimSpace(e))
	}
	return key, nil
}

func (s *Server) parseTotal(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return s.totalQuestions, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, omr.Errorf(omr.KindInvalidKeyLength, "parse totalQuestions", "%q is not an integer", v)
	}
	return n, nil
}

func statusFor(err error) (int, string) {
	if errors.Is(err, errTooLarge) {
		return http.StatusRequestEntityTooLarge, "PayloadTooLarge"
	}
	switch kind := omr.KindOf(err); kind {
	case omr.KindImageDecode, omr.KindInvalidDimensions, omr.KindInvalidKeyLength,
		omr.KindInvalidKey, omr.KindDimensionMismatch, omr.KindMissingInput:
		return http.StatusBadRequest, string(kind)
	case omr.KindRecognitionTimeout:
		return http.StatusGatewayTimeout, string(kind)
	case omr.KindRecognitionEngine:
		return http.StatusInternalServerError, string(kind)
	}
	return http.StatusInternalServerError, "InternalError"
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status >= 500 {
		logger.Warnf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: kind, Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.DebugLog("[api]: encoding response: %v", err)
	}
}
