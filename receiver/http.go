package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/justapithecus/earshot/lode"
	"github.com/justapithecus/earshot/transfer/httpblock"
)

// Handler returns the HTTP front end:
//
//	GET    /healthz      liveness, used by the sender's probe
//	PUT    /{resource}   one block, described by the X-Block-* headers
//	DELETE /{resource}   abort the device's incomplete upload
//
// Validation failures answer 4xx so the sender stops. Storage failures answer
// 503 (retriable kind) or 500; the failed last block may be sent again.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+httpblock.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PUT /{resource}", r.handlePut)
	mux.HandleFunc("DELETE /{resource}", r.handleDelete)
	return mux
}

func (r *Receiver) handlePut(w http.ResponseWriter, req *http.Request) {
	key := Key{DeviceID: req.Header.Get(httpblock.HeaderDeviceID), Resource: req.PathValue("resource")}

	b, err := parseBlock(req)
	if err != nil {
		r.config.Collector.IncBlockRejected()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// One byte past the limit distinguishes "exactly max" from "too large".
	limit := int64(b.BlockSize)
	if limit <= 0 {
		limit = r.asm.maxSize
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	b.Data = data

	stored, err := r.Accept(req.Context(), key, b)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if stored == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(stored)
}

func (r *Receiver) handleDelete(w http.ResponseWriter, req *http.Request) {
	key := Key{DeviceID: req.Header.Get(httpblock.HeaderDeviceID), Resource: req.PathValue("resource")}
	if err := validateKey(key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.Abort(key)
	w.WriteHeader(http.StatusNoContent)
}

func parseBlock(req *http.Request) (Block, error) {
	index, err := strconv.ParseUint(req.Header.Get(httpblock.HeaderIndex), 10, 64)
	if err != nil {
		return Block{}, fmt.Errorf("invalid %s: %w", httpblock.HeaderIndex, err)
	}
	size, err := strconv.Atoi(req.Header.Get(httpblock.HeaderSize))
	if err != nil || size <= 0 {
		return Block{}, fmt.Errorf("invalid %s %q", httpblock.HeaderSize, req.Header.Get(httpblock.HeaderSize))
	}
	more, err := strconv.ParseBool(req.Header.Get(httpblock.HeaderMore))
	if err != nil {
		return Block{}, fmt.Errorf("invalid %s: %w", httpblock.HeaderMore, err)
	}
	return Block{
		Index:       index,
		BlockSize:   size,
		ContentType: req.Header.Get("Content-Type"),
		Last:        !more,
	}, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidKey),
		errors.Is(err, ErrEmptyBlock),
		errors.Is(err, ErrBlockSize):
		return http.StatusBadRequest
	case errors.Is(err, ErrBlockOrder),
		errors.Is(err, ErrAfterLast):
		return http.StatusConflict
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrStore) && lode.IsRetriable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
