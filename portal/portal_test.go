package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/atelier-supply/workflow/composition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, data interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data}))
}

func writeFailure(t *testing.T, w http.ResponseWriter, status int, code, message string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": message, "code": code}))
}

func session(server *httptest.Server, role string) Session {
	return Session{BaseURL: server.URL, Token: "token-1", Role: role}
}

func TestResolve(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	tests := []struct {
		role string
		want string
	}{
		{role: "designer", want: "designer"},
		{role: "Supplier", want: "supplier"},
		{role: "manufacturer", want: "manufacturer"},
		{role: "laboratory", want: "lab"},
		{role: "quality_tester", want: "tester"},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			capability, err := Resolve(session(server, tt.role))
			require.NoError(t, err)
			assert.Equal(t, tt.want, capability.Role())
		})
	}

	capability, err := Resolve(session(server, "tester"))
	require.NoError(t, err)
	_, ok := capability.(Tester)
	assert.True(t, ok)
	_, ok = capability.(Supplier)
	assert.False(t, ok, "a tester cannot drive supplier transitions")

	for _, role := range []string{"logistics", "accountant", ""} {
		_, err := Resolve(session(server, role))
		assert.ErrorIs(t, err, ErrNoCapability, role)
	}

	_, err = Resolve(Session{Token: "t", Role: "designer"})
	assert.Error(t, err)
}

func TestDesignerCreateProduct(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/designer/products", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Haljina", body["name"])

		writeEnvelope(t, w, http.StatusCreated, map[string]string{
			"id": "product-1", "name": body["name"], "materials": body["materials"], "development_stage": "idea",
		})
	}))
	defer server.Close()

	capability, err := Resolve(session(server, "designer"))
	require.NoError(t, err)

	// Act
	product, err := capability.(Designer).CreateProduct(context.Background(), "Haljina", "Vuna 100%")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "product-1", product.ID)
	assert.Equal(t, "idea", product.DevelopmentStage)
}

func TestSupplierAcceptDecodesAvailability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/supplier/requests/request-1/accept", r.URL.Path)
		writeEnvelope(t, w, http.StatusOK, map[string]interface{}{
			"request": map[string]string{"id": "request-1", "status": "in_progress", "quantity_kg": "50"},
			"availability": map[string]interface{}{
				"found": true, "available_kg": "30", "requested_kg": "50", "shortfall_kg": "20", "sufficient": false,
			},
		})
	}))
	defer server.Close()

	capability, err := Resolve(session(server, "supplier"))
	require.NoError(t, err)

	request, availability, err := capability.(Supplier).Accept(context.Background(), "request-1")

	require.NoError(t, err)
	assert.Equal(t, "in_progress", request.Status)
	assert.Equal(t, "50", request.QuantityKg.String())
	assert.False(t, availability.Sufficient)
	assert.Equal(t, "20", availability.ShortfallKg.String())
}

func TestServerErrorsSurfaceAsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(t, w, http.StatusConflict, "invalid_transition", "shipment is confirmed")
	}))
	defer server.Close()

	capability, err := Resolve(session(server, "manufacturer"))
	require.NoError(t, err)

	_, err = capability.(Manufacturer).Confirm(context.Background(), "shipment-1", 10)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "invalid_transition", apiErr.Code)
	assert.Equal(t, "shipment is confirmed", apiErr.Message)
}

func TestUnknownRouteWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	capability, err := Resolve(session(server, "lab"))
	require.NoError(t, err)

	_, err = capability.Product(context.Background(), "product-1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Empty(t, apiErr.Code)
}

// approvalServer serves one product under test and counts approve-onchain
// calls.
func approvalServer(t *testing.T, stage, materials string, results []map[string]interface{}, calls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/products/product-1", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusOK, map[string]string{
			"id": "product-1", "development_stage": stage, "materials": materials,
		})
	})
	mux.HandleFunc("GET /api/tester/products/product-1/approval-check", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusOK, map[string]interface{}{
			"product_model_id": "product-1", "ready": true, "test_results": results,
		})
	})
	mux.HandleFunc("POST /api/tester/products/product-1/approve-onchain", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		writeEnvelope(t, w, http.StatusOK, map[string]interface{}{
			"product": map[string]string{"id": "product-1", "development_stage": "approved", "approval_tx_hash": "0xabc"},
			"receipt": map[string]interface{}{"tx_hash": "0xabc", "block_number": 42},
		})
	})
	return httptest.NewServer(mux)
}

func TestTesterApproveRunsLocalPrecheck(t *testing.T) {
	tests := []struct {
		name      string
		stage     string
		materials string
		results   []map[string]interface{}
		approved  bool
		reason    string
	}{
		{
			name:      "matching results",
			stage:     "testing",
			materials: "Pamuk 80%, Elastan 20%",
			results: []map[string]interface{}{
				{"material_name": "Pamuk", "percentage": 80},
				{"material_name": "Elastan", "percentage": 20},
			},
			approved: true,
		},
		{
			name:      "missing material",
			stage:     "testing",
			materials: "Pamuk 80%, Elastan 20%",
			results: []map[string]interface{}{
				{"material_name": "Pamuk", "percentage": 80},
				{"material_name": "Poliester", "percentage": 20},
			},
		},
		{
			name:      "not tested",
			stage:     "testing",
			materials: "Vuna 100%",
			results:   []map[string]interface{}{},
			reason:    ReasonNotYetTested,
		},
		{
			name:      "already approved",
			stage:     "approved",
			materials: "Vuna 100%",
			results:   []map[string]interface{}{{"material_name": "Vuna", "percentage": 100}},
			reason:    ReasonWrongStage,
		},
		{
			name:      "wrong stage wins over missing results",
			stage:     "prototype",
			materials: "",
			results:   []map[string]interface{}{},
			reason:    ReasonWrongStage,
		},
		{
			name:      "no declared materials",
			stage:     "testing",
			materials: "  ",
			results:   []map[string]interface{}{{"material_name": "Vuna", "percentage": 100}},
			reason:    ReasonNoDeclaredMaterials,
		},
		{
			name:      "not tested wins over missing materials",
			stage:     "testing",
			materials: "",
			results:   []map[string]interface{}{},
			reason:    ReasonNotYetTested,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			var calls int32
			server := approvalServer(t, tt.stage, tt.materials, tt.results, &calls)
			defer server.Close()

			s := session(server, "tester")
			s.MatchMode = composition.MatchSubstring
			capability, err := Resolve(s)
			require.NoError(t, err)

			// Act
			approval, err := capability.(Tester).Approve(context.Background(), "product-1")

			// Assert
			if !tt.approved {
				assert.ErrorIs(t, err, ErrPrecheckFailed)
				if tt.reason != "" {
					assert.ErrorContains(t, err, tt.reason)
				}
				assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "service is not called")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			assert.Equal(t, "approved", approval.Product.DevelopmentStage)
			require.NotNil(t, approval.Receipt)
			assert.Equal(t, uint64(42), approval.Receipt.BlockNumber)
		})
	}
}
