package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/muurk/motionlan/internal/logging"
	"github.com/muurk/motionlan/motion"
)

// router assembles the REST and WebSocket surface behind request logging
// and panic recovery.
func (b *Bridge) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealth).Methods("GET")
	r.HandleFunc("/ws", b.hub.serveWS).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/gateways", b.handleGateways).Methods("GET")
	api.HandleFunc("/gateways/{mac}", b.handleGateway).Methods("GET")
	api.HandleFunc("/devices", b.handleDevices).Methods("GET")
	api.HandleFunc("/devices/{mac}", b.handleDevice).Methods("GET")
	api.HandleFunc("/devices/{mac}/command", b.handleCommand).Methods("POST")

	return handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stdout, r))
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (b *Bridge) handleGateways(w http.ResponseWriter, _ *http.Request) {
	gws := b.snapshotGateways()
	out := make([]GatewayState, 0, len(gws))
	for _, gw := range gws {
		out = append(out, snapshotGateway(gw))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	writeJSON(w, http.StatusOK, out)
}

func (b *Bridge) handleGateway(w http.ResponseWriter, r *http.Request) {
	mac := mux.Vars(r)["mac"]
	gw, ok := b.gatewayByMAC(mac)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown gateway "+mac)
		return
	}
	detail := GatewayDetail{GatewayState: snapshotGateway(gw)}
	for _, dev := range gw.Devices() {
		detail.DeviceList = append(detail.DeviceList, snapshotDevice(gw, dev))
	}
	sort.Slice(detail.DeviceList, func(i, j int) bool {
		return detail.DeviceList[i].MAC < detail.DeviceList[j].MAC
	})
	writeJSON(w, http.StatusOK, detail)
}

func (b *Bridge) handleDevices(w http.ResponseWriter, _ *http.Request) {
	out := make([]DeviceState, 0)
	for _, gw := range b.snapshotGateways() {
		for _, dev := range gw.Devices() {
			out = append(out, snapshotDevice(gw, dev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	writeJSON(w, http.StatusOK, out)
}

func (b *Bridge) handleDevice(w http.ResponseWriter, r *http.Request) {
	mac := mux.Vars(r)["mac"]
	gw, dev, ok := b.deviceByMAC(mac)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device "+mac)
		return
	}
	writeJSON(w, http.StatusOK, snapshotDevice(gw, dev))
}

func (b *Bridge) handleCommand(w http.ResponseWriter, r *http.Request) {
	mac := mux.Vars(r)["mac"]

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed command body: "+err.Error())
		return
	}

	st, err := b.Dispatch(mac, req)
	if err != nil {
		logging.Debug("REST command failed",
			zap.String("device", mac),
			zap.String("command", req.Command),
			zap.Error(err),
		)
		writeError(w, commandStatus(err), motion.ShortMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// commandStatus maps a dispatch error onto an HTTP status: caller mistakes
// are 4xx, gateway trouble is 5xx.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, ErrBadCommand), errors.Is(err, motion.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, motion.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
