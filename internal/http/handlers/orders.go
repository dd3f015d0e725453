package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"esimflow/internal/core/ordering"
	"esimflow/internal/store/repositories"

	"github.com/go-chi/chi/v5"
)

type createOrderRequest struct {
	PackageID   string `json:"packageId"`
	Quantity    int    `json:"quantity"`
	CustomerRef string `json:"customerRef"`
	Source      string `json:"source"`
}

// CreateOrder accepts a purchase and runs the fulfillment failover loop.
func CreateOrder(engine *ordering.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.PackageID == "" {
			http.Error(w, "packageId is required", http.StatusBadRequest)
			return
		}
		if req.Quantity < 1 {
			req.Quantity = 1
		}

		res, err := engine.CreateOrder(r.Context(), ordering.CreateRequest{
			PackageID:   req.PackageID,
			Quantity:    req.Quantity,
			CustomerRef: req.CustomerRef,
			Source:      req.Source,
		})
		if err != nil {
			switch {
			case errors.Is(err, ordering.ErrNoEligibleProvider):
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			case errors.Is(err, ordering.ErrExhaustedFailover):
				writeError(w, http.StatusBadGateway, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "order creation failed")
			}
			return
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"requestId":        res.RequestID,
			"finalProviderId":  res.FinalProviderID,
			"failoverAttempts": res.FailoverAttempts,
			"orders":           res.Orders,
		})
	}
}

// GetOrder returns one order row.
func GetOrder(orders repositories.OrderRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}
		o, err := orders.FindByID(r.Context(), id)
		if errors.Is(err, repositories.ErrNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

// ListOrders pages through order rows, newest first.
func ListOrders(orders repositories.OrderRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r, 50)
		out, err := orders.List(r.Context(), limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"orders": out})
	}
}

func pagination(r *http.Request, defLimit int) (int, int) {
	limit := defLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
