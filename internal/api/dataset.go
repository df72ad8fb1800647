package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
)

// multipartMemory is how much of a multipart body is kept in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

// handleUpload stores the files of an upload form. Files arrive as
// file1..fileN, each with an optional fileN_purpose field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			writeErr(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid upload form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	kind := dataset.SplitKind(r.URL.Query().Get("type"))
	if kind == "" {
		kind = dataset.SplitTrain
	}

	var files []dataset.UploadFile
	for i := 1; i <= len(r.MultipartForm.File); i++ {
		key := fmt.Sprintf("file%d", i)
		headers := r.MultipartForm.File[key]
		if len(headers) == 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Missing %s", key))
			return
		}
		f, err := headers[0].Open()
		if err != nil {
			writeErr(w, r, err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeErr(w, r, err)
			return
		}
		files = append(files, dataset.UploadFile{
			Name:    headers[0].Filename,
			Purpose: r.FormValue(key + "_purpose"),
			Data:    data,
		})
	}

	res, err := s.workspace.Upload(r.Context(), kind, files)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDimensions(w http.ResponseWriter, r *http.Request) {
	dims, err := s.workspace.Dimensions()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dims)
}

func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	res, err := s.workspace.Preprocess(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFeatureSelection(w http.ResponseWriter, r *http.Request) {
	res, err := s.workspace.SelectFeatures(r.Context(), r.FormValue("method"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	res, err := s.workspace.Normalize(r.Context(), r.FormValue("normalization_type"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTrain fits the model named by the "model" parameter on the
// current splits.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	data, err := s.workspace.LoadSplits()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.trainer.Train(r.Context(), data.Train, data.Validation, data.Test, data.Scaling, r.FormValue("model"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
