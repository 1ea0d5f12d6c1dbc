package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/fractal-analytics-platform/zroi/loader"
	"github.com/fractal-analytics-platform/zroi/roi"
	"github.com/fractal-analytics-platform/zroi/scale"
	"github.com/fractal-analytics-platform/zroi/zarr"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

const (
	// WebAPIPath is the path prefix of all HTTP API calls.
	WebAPIPath = "/api/"

	// Headers describing raw array responses.
	HeaderShape = "X-Zroi-Shape"
	HeaderDtype = "X-Zroi-Dtype"
	HeaderScale = "X-Zroi-Scale"
)

const webHelp = `
zroi HTTP API

GET /api/help
	Returns this help.

GET /api/server/note
	Returns the note of the [server] configuration.

GET /api/catalog?location=<loc>[&table=<name>]
	Returns the tables, ROIs of the selected table, channels, pyramid levels and
	label images of the image at the location as JSON.

GET /api/indices?location=<loc>[&table=<name>][&level=<level>|&scale=<s,...>][&format=arrow]
	Returns the z, y, x index ranges of all ROIs of a table at a pyramid level as
	JSON, or as an Arrow IPC stream with format=arrow.

GET /api/intensity?location=<loc>&roi=<name>[&channel=<index or label>][&level=<level>|&scale=<s,...>][&table=<name>][&format=json]
	Returns one channel of a ROI.  An explicit level takes precedence over a
	target scale; without either, level "0" is used.

GET /api/label?location=<loc>&roi=<name>&label=<name>[&scale=<s,...>][&table=<name>][&format=json]
	Returns a ROI of a label image at the level closest to the scale, or level "0".

Arrays are returned as raw little-endian bytes with the shape, dtype and scale
vector in the X-Zroi-Shape, X-Zroi-Dtype and X-Zroi-Scale headers, or as JSON
with format=json.  Locations are paths under a configured store alias, e.g.
"plates/plate.zarr/B/03/0" for [store.plates].  Other locations are rejected
with status 400.
`

// BadRequest writes a 400 response and logs the message.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	zroi.Errorf("%s (%s).\n", message, r.URL)
	http.Error(w, message, http.StatusBadRequest)
}

// httpStatus maps an error to the HTTP status reported to the client.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, zroi.ErrNotFound), errors.Is(err, zroi.ErrUnknownRoi):
		return http.StatusNotFound
	case zroi.IsValidationError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// reportError writes the error with its mapped status.
func reportError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		zroi.Errorf("%s: %v\n", r.URL, err)
	} else {
		zroi.Debugf("%s: %v\n", r.URL, err)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) initRoutes() {
	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(logHTTP)
	mux.Use(middleware.Recoverer)
	if handler := corsHandler(s.config.Server.CorsDomains); handler != nil {
		mux.Use(handler)
	}

	mux.Get(WebAPIPath+"help", helpHandler)
	mux.Get(WebAPIPath+"server/note", s.noteHandler)
	mux.Get(WebAPIPath+"catalog", s.catalogHandler)
	mux.Get(WebAPIPath+"indices", s.indicesHandler)
	mux.Get(WebAPIPath+"intensity", s.intensityHandler)
	mux.Get(WebAPIPath+"label", s.labelHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, fmt.Sprintf("no API endpoint %q, see %shelp", r.URL.Path, WebAPIPath), http.StatusNotFound)
	})
	s.mux = mux
}

// logHTTP is middleware that logs each request with its duration.
func logHTTP(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		timedLog := zroi.NewTimeLog()
		h.ServeHTTP(w, r)
		timedLog.Debugf("HTTP %s: %s [%s]", r.Method, r.URL, middleware.GetReqID(*c))
	}
	return http.HandlerFunc(fn)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, webHelp)
}

func (s *Server) noteHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, s.config.Note())
}

func (s *Server) catalogHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	location := query.Get("location")
	if location == "" {
		BadRequest(w, r, "catalog requires a location")
		return
	}
	opts, err := s.loader.Catalog(r.Context(), location, query.Get("table"))
	if err != nil {
		reportError(w, r, err)
		return
	}
	writeJSON(w, r, opts)
}

func (s *Server) indicesHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	location := query.Get("location")
	if location == "" {
		BadRequest(w, r, "indices requires a location")
		return
	}
	sel, err := levelSelector(query.Get("level"), query.Get("scale"))
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	table := query.Get("table")
	ranges, err := s.loader.ResolveTable(r.Context(), location, table, sel)
	if err != nil {
		reportError(w, r, err)
		return
	}
	if query.Get("format") != "arrow" {
		writeJSON(w, r, ranges)
		return
	}
	order, err := s.loader.ROINames(r.Context(), location, table)
	if err != nil {
		reportError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	if err := roi.WriteArrowIPC(w, ranges, order); err != nil {
		zroi.Errorf("writing Arrow index ranges for %s: %v\n", r.URL, err)
	}
}

func (s *Server) intensityHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	location, roiName := query.Get("location"), query.Get("roi")
	if location == "" || roiName == "" {
		BadRequest(w, r, "intensity requires a location and a roi")
		return
	}
	sel, err := levelSelector(query.Get("level"), query.Get("scale"))
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	channel := 0
	if ch := query.Get("channel"); ch != "" {
		if channel, err = strconv.Atoi(ch); err != nil {
			if channel, err = s.loader.ChannelIndex(r.Context(), location, ch); err != nil {
				reportError(w, r, err)
				return
			}
		}
	}
	arr, sv, err := s.loader.LoadIntensityROI(r.Context(), location, roiName, channel, sel, query.Get("table"))
	if err != nil {
		reportError(w, r, err)
		return
	}
	writeArray(w, r, arr, sv)
}

func (s *Server) labelHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	location, roiName, label := query.Get("location"), query.Get("roi"), query.Get("label")
	if location == "" || roiName == "" || label == "" {
		BadRequest(w, r, "label requires a location, a roi and a label")
		return
	}
	var target scale.Vector
	if str := query.Get("scale"); str != "" {
		v, err := zroi.ParseFloats(str, ",")
		if err != nil {
			BadRequest(w, r, "bad scale %q: %v", str, err)
			return
		}
		target = v
	}
	arr, sv, err := s.loader.LoadLabelROI(r.Context(), location, roiName, label, target, query.Get("table"))
	if err != nil {
		reportError(w, r, err)
		return
	}
	writeArray(w, r, arr, sv)
}

func levelSelector(level, scaleStr string) (loader.LevelSelector, error) {
	sel := loader.LevelSelector{Level: level}
	if scaleStr != "" {
		v, err := zroi.ParseFloats(scaleStr, ",")
		if err != nil {
			return sel, fmt.Errorf("bad scale %q: %v", scaleStr, err)
		}
		sel.Target = v
	}
	return sel, nil
}

type arrayJSON struct {
	Shape []int     `json:"shape"`
	Dtype string    `json:"dtype"`
	Scale []float64 `json:"scale"`
	Data  []float64 `json:"data"`
}

func writeArray(w http.ResponseWriter, r *http.Request, arr *zarr.NdArray, sv scale.Vector) {
	if r.URL.Query().Get("format") == "json" {
		values, err := arr.Float64s()
		if err != nil {
			reportError(w, r, err)
			return
		}
		writeJSON(w, r, arrayJSON{Shape: arr.Shape, Dtype: arr.Dtype.String(), Scale: sv, Data: values})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(HeaderShape, zroi.FormatInts(arr.Shape))
	w.Header().Set(HeaderDtype, arr.Dtype.String())
	w.Header().Set(HeaderScale, zroi.FormatFloats(sv))
	w.Header().Set("Content-Length", strconv.Itoa(len(arr.Data)))
	if _, err := w.Write(arr.Data); err != nil {
		zroi.Errorf("writing %d bytes for %s: %v\n", len(arr.Data), r.URL, err)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		reportError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// splitDomains accepts comma-separated domain lists inside the corsDomains
// entries.
func splitDomains(domains []string) []string {
	var out []string
	for _, d := range domains {
		for _, part := range strings.Split(d, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
