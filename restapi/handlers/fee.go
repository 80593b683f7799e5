package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/renegade-fi/fee-sweeper/db"
	"github.com/renegade-fi/fee-sweeper/service"
)

type ListFeesData struct {
	Fees []*db.Fee `json:"fees"`
}

type StatsData struct {
	Counts map[db.FeeStatus]int64 `json:"counts"`
}

func HandleGetFee(svc service.Fee) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := feeID(r)
		if err != nil {
			writeResponse(w, nil, err)
			return
		}
		fee, err := svc.GetFee(r.Context(), id)
		writeResponse(w, fee, err)
	}
}

func HandleListFees(svc service.Fee) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := intParam(q.Get("limit"))
		if err != nil {
			writeResponse(w, nil, service.BadRequestErr.Enrich("invalid limit"))
			return
		}
		offset, err := intParam(q.Get("offset"))
		if err != nil {
			writeResponse(w, nil, service.BadRequestErr.Enrich("invalid offset"))
			return
		}
		fees, err := svc.ListFees(r.Context(), q.Get("status"), limit, offset)
		writeResponse(w, &ListFeesData{Fees: fees}, err)
	}
}

// HandleRequeueFee moves a failed fee back to pending. Attempts are reset unless reset_attempts=false.
func HandleRequeueFee(svc service.Fee) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := feeID(r)
		if err != nil {
			writeResponse(w, nil, err)
			return
		}
		reset := true
		if v := r.URL.Query().Get("reset_attempts"); v != "" {
			if reset, err = strconv.ParseBool(v); err != nil {
				writeResponse(w, nil, service.BadRequestErr.Enrich("invalid reset_attempts"))
				return
			}
		}
		fee, err := svc.RequeueFee(r.Context(), id, reset)
		writeResponse(w, fee, err)
	}
}

func HandleGetStats(svc service.Fee) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := svc.GetStats(r.Context())
		writeResponse(w, &StatsData{Counts: counts}, err)
	}
}

func feeID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, service.BadRequestErr.Enrich("invalid fee id")
	}
	return id, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
