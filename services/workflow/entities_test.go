package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRequest(t *testing.T) *MaterialRequest {
	t.Helper()
	request, err := NewMaterialRequest(designer, "product-1", " Likra ", "Crna", kg("50"), fixedNow)
	require.NoError(t, err)
	return request
}

func TestNewMaterialRequest(t *testing.T) {
	// Arrange & Act
	request := newRequest(t)

	// Assert
	assert.Equal(t, RequestStatusNew, request.Status)
	assert.Equal(t, "Likra", request.Material)
	assert.Equal(t, designer.ID, request.DesignerID)
	assert.False(t, request.PreparedQuantityKg.Valid)

	_, err := NewMaterialRequest(designer, "product-1", "Likra", "Crna", kg("0"), fixedNow)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewMaterialRequest(supplier, "product-1", "Likra", "Crna", kg("1"), fixedNow)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMaterialRequestSendQuantityPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		prepared *string
		override *string
		want     string
	}{
		{name: "requested quantity by default", want: "50"},
		{name: "prepared quantity over requested", prepared: strPtr("45"), want: "45"},
		{name: "override over prepared", prepared: strPtr("45"), override: strPtr("40"), want: "40"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := newRequest(t)
			require.NoError(t, request.Accept(supplier, fixedNow))
			if tt.prepared != nil {
				require.NoError(t, request.Prepare(supplier, kgPtr(*tt.prepared), "", "", fixedNow))
			}
			var override *decimal.Decimal
			if tt.override != nil {
				override = kgPtr(*tt.override)
			}

			quantity, err := request.Send(supplier, override, fixedNow)

			require.NoError(t, err)
			assert.True(t, quantity.Equal(kg(tt.want)), "got %s", quantity)
			assert.Equal(t, RequestStatusSent, request.Status)
		})
	}
}

func TestMaterialRequestRejectReasons(t *testing.T) {
	request := newRequest(t)

	assert.ErrorIs(t, request.Reject(supplier, "", "", fixedNow), ErrValidation)
	assert.ErrorIs(t, request.Reject(supplier, "too_expensive", "", fixedNow), ErrValidation)
	require.NoError(t, request.Reject(supplier, RejectionDeadlineTooShort, " two weeks ", fixedNow))

	assert.Equal(t, RequestStatusRejected, request.Status)
	assert.Equal(t, "two weeks", request.RejectionComment)
	assert.True(t, request.IsTerminal())
	assert.ErrorIs(t, request.Accept(supplier, fixedNow), ErrInvalidTransition)
	assert.ErrorIs(t, request.Prepare(supplier, nil, "", "", fixedNow), ErrInvalidTransition)
}

func TestShipmentLifecycle(t *testing.T) {
	// Arrange
	request := newRequest(t)
	require.NoError(t, request.Accept(supplier, fixedNow))
	quantity, err := request.Send(supplier, kgPtr("48"), fixedNow)
	require.NoError(t, err)

	shipment, err := NewShipment(request, manufacturer.ID, quantity, nil, "TRK", fixedNow)
	require.NoError(t, err)

	// Act & Assert
	assert.True(t, shipment.ShortfallKg().Equal(kg("2")))
	assert.ErrorIs(t, shipment.Confirm(manufacturer, 1, fixedNow), ErrInvalidTransition, "confirmed only via received")

	require.NoError(t, shipment.Receive(manufacturer, fixedNow))
	assert.ErrorIs(t, shipment.Receive(manufacturer, fixedNow), ErrInvalidTransition)
	assert.ErrorIs(t, shipment.Confirm(manufacturer, 0, fixedNow), ErrValidation)

	require.NoError(t, shipment.Confirm(manufacturer, 1, fixedNow))
	assert.Equal(t, ShipmentStatusConfirmed, shipment.Status)
	assert.NotNil(t, shipment.ConfirmedAt)
	assert.ErrorIs(t, shipment.ReportProblem(manufacturer, "late", "", fixedNow), ErrInvalidTransition)
}

func TestNewShipmentRequiresSentRequest(t *testing.T) {
	request := newRequest(t)

	_, err := NewShipment(request, manufacturer.ID, kg("1"), nil, "", fixedNow)

	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNewSewingOrderRequiresConfirmedShipment(t *testing.T) {
	shipment := &Shipment{ID: "shipment-1", ProductModelID: "product-1", ManufacturerID: manufacturer.ID, Status: ShipmentStatusReceived}

	_, err := NewSewingOrder(shipment, 1, nil, fixedNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	shipment.Status = ShipmentStatusConfirmed
	order, err := NewSewingOrder(shipment, 1, nil, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, SewingMaterialReady, order.MaterialStatus)
	assert.Equal(t, SewingStatusNew, order.Status)
	assert.Equal(t, manufacturer.ID, order.ManufacturerID)
}

func TestSewingOrderStartRequiresReadyMaterials(t *testing.T) {
	order := &SewingOrder{ID: "order-1", ManufacturerID: manufacturer.ID, MaterialStatus: SewingMaterialWaiting, Status: SewingStatusNew}

	assert.ErrorIs(t, order.Start(manufacturer, fixedNow), ErrInvalidTransition)

	order.MaterialStatus = SewingMaterialReady
	require.NoError(t, order.Start(manufacturer, fixedNow))
	require.NoError(t, order.Complete(manufacturer, "", fixedNow))
	assert.Equal(t, SewingStatusCompleted, order.Status)
}

func TestInventoryDeductNeverGoesNegative(t *testing.T) {
	item, err := NewInventoryItem(supplier, "Pamuk", "Bela", kg("5"), kg("3"), 2, fixedNow)
	require.NoError(t, err)

	assert.ErrorIs(t, item.Deduct(kg("5.5"), fixedNow), ErrInvalidTransition)
	assert.True(t, item.QuantityKg.Equal(kg("5")))

	require.NoError(t, item.Deduct(kg("5"), fixedNow))
	assert.True(t, item.QuantityKg.IsZero())
	assert.Equal(t, 2, item.Version)
}

func TestCheckAvailability(t *testing.T) {
	request := newRequest(t)

	none := CheckAvailability(request, nil)
	assert.False(t, none.Found)
	assert.True(t, none.ShortfallKg.Equal(kg("50")))

	item := &InventoryItem{ID: "item-1", QuantityKg: kg("60"), Status: InventoryStatusActive}
	enough := CheckAvailability(request, item)
	assert.True(t, enough.Sufficient)
	assert.True(t, enough.ShortfallKg.IsZero())

	item.Status = InventoryStatusPaused
	assert.False(t, CheckAvailability(request, item).Sufficient, "paused stock is not offered")
}

func TestCheckApprovalPreconditionsOrder(t *testing.T) {
	tests := []struct {
		name    string
		product ProductModel
		results int
		reason  string
	}{
		{name: "wrong stage first", product: ProductModel{DevelopmentStage: StagePrototype}, results: 0, reason: ReasonWrongStage},
		{name: "then missing results", product: ProductModel{DevelopmentStage: StageTesting}, results: 0, reason: ReasonNotYetTested},
		{name: "then missing materials", product: ProductModel{DevelopmentStage: StageTesting, Materials: " "}, results: 2, reason: ReasonNoDeclaredMaterials},
		{name: "ready", product: ProductModel{DevelopmentStage: StageTesting, Materials: "Vuna 100%"}, results: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.product.CheckApprovalPreconditions(tt.results)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var precondition *PreconditionError
			require.ErrorAs(t, err, &precondition)
			assert.Equal(t, tt.reason, precondition.Reason)
			assert.ErrorIs(t, err, ErrApprovalRejected)
		})
	}
}

func TestDeriveMaterialStatus(t *testing.T) {
	tests := []struct {
		name     string
		request  *MaterialRequest
		shipment *Shipment
		want     string
	}{
		{name: "no request", want: MaterialStatusNone},
		{name: "new", request: &MaterialRequest{Status: RequestStatusNew}, want: MaterialStatusRequested},
		{name: "accepted", request: &MaterialRequest{Status: RequestStatusInProgress}, want: MaterialStatusPreparing},
		{name: "reopened after problem", request: &MaterialRequest{Status: RequestStatusInProgress},
			shipment: &Shipment{Status: ShipmentStatusProblemReported}, want: MaterialStatusProblem},
		{name: "in transit", request: &MaterialRequest{Status: RequestStatusSent},
			shipment: &Shipment{Status: ShipmentStatusSent}, want: MaterialStatusInTransit},
		{name: "received", request: &MaterialRequest{Status: RequestStatusSent},
			shipment: &Shipment{Status: ShipmentStatusReceived}, want: MaterialStatusReceived},
		{name: "completed", request: &MaterialRequest{Status: RequestStatusCompleted}, want: MaterialStatusReady},
		{name: "rejected", request: &MaterialRequest{Status: RequestStatusRejected}, want: MaterialStatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveMaterialStatus(tt.request, tt.shipment))
		})
	}
}

func TestProductApprove(t *testing.T) {
	product := &ProductModel{ID: "product-1", DevelopmentStage: StageTesting}

	assert.ErrorIs(t, product.Approve("", tester.ID, fixedNow), ErrValidation)
	require.NoError(t, product.Approve("0xabc", tester.ID, fixedNow))

	assert.Equal(t, StageApproved, product.DevelopmentStage)
	assert.Equal(t, "0xabc", product.ApprovalTxHash)
	require.NotNil(t, product.ApprovedAt)
	assert.ErrorIs(t, product.Approve("0xdef", tester.ID, fixedNow), ErrInvalidTransition)
}

func TestParseActorKind(t *testing.T) {
	kind, ok := ParseActorKind("Laboratory")
	assert.True(t, ok)
	assert.Equal(t, ActorLab, kind)

	kind, ok = ParseActorKind("quality_tester")
	assert.True(t, ok)
	assert.Equal(t, ActorTester, kind)

	_, ok = ParseActorKind("logistics")
	assert.False(t, ok)
}

func strPtr(v string) *string {
	return &v
}
