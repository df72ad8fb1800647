package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/capture"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/monitor"
)

// csvDownloadName is the attachment name of the capture CSV.
const csvDownloadName = "network_traffic_analysis.csv"

// handleLoadModel installs an uploaded model. ONNX uploads carry their
// feature and class names in the "features" and "classes" fields, and
// optionally the workspace scaling.json in "scaling".
func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			writeErr(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("model")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "No file uploaded")
			return
		}
		writeErr(w, r, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	meta := monitor.ModelMeta{
		Features: parseList(r.FormValue("features")),
		Classes:  parseList(r.FormValue("classes")),
	}
	if v := strings.TrimSpace(r.FormValue("scaling")); v != "" {
		if err := json.Unmarshal([]byte(v), &meta.Scaling); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid scaling field")
			return
		}
	}
	res, err := s.monitor.LoadModel(r.Context(), header.Filename, data, meta)
	var le *monitor.LoadError
	switch {
	case errors.As(err, &le):
		s.log.Warn("model rejected", "file", header.Filename, logging.Err(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": le.Msg, "advice": le.Advice})
		return
	case err != nil:
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseList accepts either a JSON array of strings or a comma-separated
// list.
func parseList(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	var out []string
	if parsed := gjson.Parse(v); gjson.Valid(v) && parsed.IsArray() {
		for _, item := range parsed.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	for _, item := range strings.Split(v, ",") {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	opts := monitor.CaptureOptions{
		Interface: r.FormValue("interface"),
		PcapFile:  r.FormValue("pcap_file"),
		BPFFilter: r.FormValue("bpf"),
		Mode:      r.FormValue("mode"),
	}
	res, err := s.monitor.StartCapture(r.Context(), opts)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	res, err := s.monitor.StopCapture()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePredictions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Predictions())
}

func (s *Server) handlePackets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Packets())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) handleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	path, ok := s.monitor.CSVPath()
	if !ok {
		writeError(w, http.StatusNotFound, "No data file available")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+csvDownloadName+`"`)
	http.ServeFile(w, r, path)
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	selected, _ := capture.SelectInterface()
	writeJSON(w, http.StatusOK, map[string]any{
		"interfaces": ifaces,
		"default":    selected,
	})
}
