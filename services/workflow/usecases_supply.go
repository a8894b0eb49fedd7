package main

import (
	"context"
	"fmt"
	"strings"
)

// CreateInventoryItem adds a (material, color) line to the caller's stock.
func (uc *WorkflowUseCase) CreateInventoryItem(ctx context.Context, actor Actor, req CreateInventoryItemRequest) (*InventoryItem, error) {
	item, err := NewInventoryItem(actor, req.Material, req.Color, req.QuantityKg, req.PricePerKg, req.LeadTimeDays, uc.now())
	if err != nil {
		return nil, err
	}

	err = uc.inTx(ctx, "create_inventory_item", actor, func(tx Tx, log *transitionLog) error {
		return uc.repository.CreateInventoryItem(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateInventoryItem applies a versioned partial update.
func (uc *WorkflowUseCase) UpdateInventoryItem(ctx context.Context, actor Actor, id string, req UpdateInventoryItemRequest) (*InventoryItem, error) {
	var item *InventoryItem
	err := uc.inTx(ctx, "update_inventory_item", actor, func(tx Tx, log *transitionLog) error {
		var err error
		item, err = uc.repository.GetInventoryItemForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := item.Update(actor, req.Version, req.QuantityKg, req.PricePerKg, req.LeadTimeDays, log.now); err != nil {
			return err
		}
		return uc.repository.UpdateInventoryItem(ctx, tx, item, req.Version)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// SetInventoryStatus pauses or reactivates an item.
func (uc *WorkflowUseCase) SetInventoryStatus(ctx context.Context, actor Actor, id string, req SetInventoryStatusRequest) (*InventoryItem, error) {
	var item *InventoryItem
	err := uc.inTx(ctx, "set_inventory_status", actor, func(tx Tx, log *transitionLog) error {
		var err error
		item, err = uc.repository.GetInventoryItemForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		version := item.Version
		if err := item.SetStatus(actor, req.Status, log.now); err != nil {
			return err
		}
		return uc.repository.UpdateInventoryItem(ctx, tx, item, version)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListInventory returns the caller's stock.
func (uc *WorkflowUseCase) ListInventory(ctx context.Context, actor Actor) ([]InventoryItem, error) {
	if err := actor.require(ActorSupplier); err != nil {
		return nil, err
	}
	return uc.repository.ListInventoryItems(ctx, actor.ID)
}

// CreateMaterialRequest files a designer's request against a product model.
func (uc *WorkflowUseCase) CreateMaterialRequest(ctx context.Context, actor Actor, req CreateMaterialRequestRequest) (*MaterialRequest, error) {
	deadline, err := parseDate("deadline", req.Deadline)
	if err != nil {
		return nil, err
	}

	var request *MaterialRequest
	err = uc.inTx(ctx, "create_material_request", actor, func(tx Tx, log *transitionLog) error {
		product, err := uc.repository.GetProductModelForUpdate(ctx, tx, req.ProductModelID)
		if err != nil {
			return err
		}
		request, err = NewMaterialRequest(actor, product.ID, req.Material, req.Color, req.QuantityKg, log.now)
		if err != nil {
			return err
		}
		request.Deadline = deadline
		request.SupplierID = strings.TrimSpace(req.SupplierID)
		request.Notes = strings.TrimSpace(req.Notes)

		if err := uc.repository.CreateMaterialRequest(ctx, tx, request); err != nil {
			return err
		}
		return log.record(EntityMaterialRequest, request.ID, request.ProductModelID, "", request.Status, "")
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// ListDesignerRequests returns the caller's requests.
func (uc *WorkflowUseCase) ListDesignerRequests(ctx context.Context, actor Actor) ([]MaterialRequest, error) {
	if err := actor.require(ActorDesigner); err != nil {
		return nil, err
	}
	return uc.repository.ListMaterialRequests(ctx, RequestFilter{DesignerID: actor.ID})
}

// ListSupplierRequests returns requests assigned to the caller plus
// unassigned ones, optionally narrowed by status.
func (uc *WorkflowUseCase) ListSupplierRequests(ctx context.Context, actor Actor, status string) ([]MaterialRequest, error) {
	if err := actor.require(ActorSupplier); err != nil {
		return nil, err
	}
	return uc.repository.ListMaterialRequests(ctx, RequestFilter{
		SupplierID:        actor.ID,
		IncludeUnassigned: true,
		Status:            status,
	})
}

// Availability reports whether the caller's stock covers a request. The
// result is advisory and never blocks a transition.
func (uc *WorkflowUseCase) Availability(ctx context.Context, actor Actor, requestID string) (*Availability, error) {
	request, err := uc.repository.GetMaterialRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := request.visibleTo(actor); err != nil {
		return nil, err
	}

	item, err := uc.repository.FindInventoryItem(ctx, actor.ID, request.Material, request.Color)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	availability := CheckAvailability(request, item)
	return &availability, nil
}

// AcceptRequest claims a new request. The supplier must stock the exact
// (material, color); a shortfall is only reported.
func (uc *WorkflowUseCase) AcceptRequest(ctx context.Context, actor Actor, id string) (*MaterialRequest, *Availability, error) {
	var request *MaterialRequest
	var availability Availability
	err := uc.inTx(ctx, "accept_request", actor, func(tx Tx, log *transitionLog) error {
		var err error
		request, err = uc.repository.GetMaterialRequestForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from := request.Status
		if err := request.Accept(actor, log.now); err != nil {
			return err
		}

		item, err := uc.repository.FindInventoryItem(ctx, actor.ID, request.Material, request.Color)
		if isNotFound(err) {
			return fmt.Errorf("%w: supplier holds no inventory for %s/%s", ErrInvalidTransition, request.Material, request.Color)
		}
		if err != nil {
			return err
		}
		availability = CheckAvailability(request, item)

		if err := uc.repository.UpdateMaterialRequest(ctx, tx, request); err != nil {
			return err
		}
		note := ""
		if !availability.Sufficient {
			note = fmt.Sprintf("shortfall %s kg", availability.ShortfallKg.String())
		}
		return log.record(EntityMaterialRequest, request.ID, request.ProductModelID, from, request.Status, note)
	})
	if err != nil {
		return nil, nil, err
	}
	return request, &availability, nil
}

// RejectRequest closes a new request with a reason.
func (uc *WorkflowUseCase) RejectRequest(ctx context.Context, actor Actor, id string, req RejectRequestRequest) (*MaterialRequest, error) {
	var request *MaterialRequest
	err := uc.inTx(ctx, "reject_request", actor, func(tx Tx, log *transitionLog) error {
		var err error
		request, err = uc.repository.GetMaterialRequestForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from := request.Status
		if err := request.Reject(actor, req.RejectionReason, req.RejectionComment, log.now); err != nil {
			return err
		}
		if err := uc.repository.UpdateMaterialRequest(ctx, tx, request); err != nil {
			return err
		}
		return log.record(EntityMaterialRequest, request.ID, request.ProductModelID, from, request.Status, request.RejectionReason)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// PrepareRequest stores shipment details on an accepted request.
func (uc *WorkflowUseCase) PrepareRequest(ctx context.Context, actor Actor, id string, req PrepareRequestRequest) (*MaterialRequest, error) {
	var request *MaterialRequest
	err := uc.inTx(ctx, "prepare_request", actor, func(tx Tx, log *transitionLog) error {
		var err error
		request, err = uc.repository.GetMaterialRequestForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := request.Prepare(actor, req.QuantitySentKg, strings.TrimSpace(req.BatchLotID), strings.TrimSpace(req.DocumentURL), log.now); err != nil {
			return err
		}
		return uc.repository.UpdateMaterialRequest(ctx, tx, request)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// SendToManufacturer ships an accepted request. In one transaction it moves
// the request to sent, deducts the supplier's stock and creates the shipment.
func (uc *WorkflowUseCase) SendToManufacturer(ctx context.Context, actor Actor, id string, req SendToManufacturerRequest) (*Shipment, error) {
	shippingDate, err := parseDate("shipping_date", req.ShippingDate)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ManufacturerID) == "" {
		return nil, fmt.Errorf("%w: manufacturer_id is required", ErrValidation)
	}

	var shipment *Shipment
	err = uc.inTx(ctx, "send_to_manufacturer", actor, func(tx Tx, log *transitionLog) error {
		request, err := uc.repository.GetMaterialRequestForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from := request.Status
		quantity, err := request.Send(actor, req.QuantitySentKg, log.now)
		if err != nil {
			return err
		}

		item, err := uc.repository.FindInventoryItemForUpdate(ctx, tx, actor.ID, request.Material, request.Color)
		if isNotFound(err) {
			return fmt.Errorf("%w: supplier holds no inventory for %s/%s", ErrInvalidTransition, request.Material, request.Color)
		}
		if err != nil {
			return err
		}
		version := item.Version
		if err := item.Deduct(quantity, log.now); err != nil {
			return err
		}
		if err := uc.repository.UpdateInventoryItem(ctx, tx, item, version); err != nil {
			return err
		}

		shipment, err = NewShipment(request, req.ManufacturerID, quantity, shippingDate, req.TrackingNumber, log.now)
		if err != nil {
			return err
		}
		if err := uc.repository.CreateShipment(ctx, tx, shipment); err != nil {
			return err
		}
		if err := uc.repository.UpdateMaterialRequest(ctx, tx, request); err != nil {
			return err
		}

		note := ""
		if shortfall := shipment.ShortfallKg(); shortfall.IsPositive() {
			note = fmt.Sprintf("partial fulfillment, %s kg short", shortfall.String())
		}
		if err := log.record(EntityMaterialRequest, request.ID, request.ProductModelID, from, request.Status, note); err != nil {
			return err
		}
		return log.record(EntityShipment, shipment.ID, shipment.ProductModelID, "", shipment.Status, "")
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

// ListShipments returns shipments addressed to the caller.
func (uc *WorkflowUseCase) ListShipments(ctx context.Context, actor Actor) ([]Shipment, error) {
	if err := actor.require(ActorManufacturer); err != nil {
		return nil, err
	}
	return uc.repository.ListShipments(ctx, actor.ID)
}

// ShipmentStats returns the caller's KPI buckets.
func (uc *WorkflowUseCase) ShipmentStats(ctx context.Context, actor Actor) (ShipmentStats, error) {
	if err := actor.require(ActorManufacturer); err != nil {
		return ShipmentStats{}, err
	}
	return uc.repository.ShipmentStats(ctx, actor.ID)
}

// ReceiveShipment marks a shipment as received.
func (uc *WorkflowUseCase) ReceiveShipment(ctx context.Context, actor Actor, id string) (*Shipment, error) {
	var shipment *Shipment
	err := uc.inTx(ctx, "receive_shipment", actor, func(tx Tx, log *transitionLog) error {
		var err error
		shipment, err = uc.repository.GetShipmentForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from := shipment.Status
		if err := shipment.Receive(actor, log.now); err != nil {
			return err
		}
		if err := uc.repository.UpdateShipment(ctx, tx, shipment); err != nil {
			return err
		}
		return log.record(EntityShipment, shipment.ID, shipment.ProductModelID, from, shipment.Status, "")
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

// ConfirmShipment confirms a received shipment, completes its request and
// creates the one sewing order derived from it.
func (uc *WorkflowUseCase) ConfirmShipment(ctx context.Context, actor Actor, id string, req ConfirmShipmentRequest) (*SewingOrder, error) {
	var order *SewingOrder
	err := uc.inTx(ctx, "confirm_shipment", actor, func(tx Tx, log *transitionLog) error {
		shipment, err := uc.repository.GetShipmentForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		shipmentFrom := shipment.Status
		if err := shipment.Confirm(actor, req.QuantityPieces, log.now); err != nil {
			return err
		}

		request, err := uc.repository.GetMaterialRequestForUpdate(ctx, tx, shipment.RequestID)
		if err != nil {
			return err
		}
		requestFrom := request.Status
		if err := request.Complete(log.now); err != nil {
			return err
		}

		order, err = NewSewingOrder(shipment, req.QuantityPieces, request.Deadline, log.now)
		if err != nil {
			return err
		}
		created, err := uc.repository.CreateSewingOrder(ctx, tx, order)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("%w: shipment %s already has a sewing order", ErrConflict, shipment.ID)
		}

		if err := uc.repository.UpdateShipment(ctx, tx, shipment); err != nil {
			return err
		}
		if err := uc.repository.UpdateMaterialRequest(ctx, tx, request); err != nil {
			return err
		}

		if err := log.record(EntityShipment, shipment.ID, shipment.ProductModelID, shipmentFrom, shipment.Status, ""); err != nil {
			return err
		}
		if err := log.record(EntityMaterialRequest, request.ID, request.ProductModelID, requestFrom, request.Status, ""); err != nil {
			return err
		}
		return log.record(EntitySewingOrder, order.ID, order.ProductModelID, "", order.Status, "")
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ReportProblem closes a shipment with a problem and reopens its request so
// the supplier can ship again.
func (uc *WorkflowUseCase) ReportProblem(ctx context.Context, actor Actor, id string, req ReportProblemRequest) (*Shipment, error) {
	var shipment *Shipment
	err := uc.inTx(ctx, "report_problem", actor, func(tx Tx, log *transitionLog) error {
		var err error
		shipment, err = uc.repository.GetShipmentForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		shipmentFrom := shipment.Status
		if err := shipment.ReportProblem(actor, req.ProblemReason, req.ProblemComment, log.now); err != nil {
			return err
		}

		request, err := uc.repository.GetMaterialRequestForUpdate(ctx, tx, shipment.RequestID)
		if err != nil {
			return err
		}
		requestFrom := request.Status
		if err := request.Reopen(log.now); err != nil {
			return err
		}

		if err := uc.repository.UpdateShipment(ctx, tx, shipment); err != nil {
			return err
		}
		if err := uc.repository.UpdateMaterialRequest(ctx, tx, request); err != nil {
			return err
		}
		if err := log.record(EntityShipment, shipment.ID, shipment.ProductModelID, shipmentFrom, shipment.Status, shipment.ProblemReason); err != nil {
			return err
		}
		return log.record(EntityMaterialRequest, request.ID, request.ProductModelID, requestFrom, request.Status, "shipment problem reported")
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

// ListSewingOrders returns the caller's sewing orders.
func (uc *WorkflowUseCase) ListSewingOrders(ctx context.Context, actor Actor) ([]SewingOrder, error) {
	if err := actor.require(ActorManufacturer); err != nil {
		return nil, err
	}
	return uc.repository.ListSewingOrders(ctx, actor.ID)
}

// StartSewingOrder begins production.
func (uc *WorkflowUseCase) StartSewingOrder(ctx context.Context, actor Actor, id string) (*SewingOrder, error) {
	var order *SewingOrder
	err := uc.inTx(ctx, "start_sewing_order", actor, func(tx Tx, log *transitionLog) error {
		var err error
		order, err = uc.repository.GetSewingOrderForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from := order.Status
		if err := order.Start(actor, log.now); err != nil {
			return err
		}
		if err := uc.repository.UpdateSewingOrder(ctx, tx, order); err != nil {
			return err
		}
		return log.record(EntitySewingOrder, order.ID, order.ProductModelID, from, order.Status, "")
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CompleteSewingOrder finishes production.
func (uc *WorkflowUseCase) CompleteSewingOrder(ctx context.Context, actor Actor, id string, req CompleteSewingOrderRequest) (*SewingOrder, error) {
	var order *SewingOrder
	err := uc.inTx(ctx, "complete_sewing_order", actor, func(tx Tx, log *transitionLog) error {
		var err error
		order, err = uc.repository.GetSewingOrderForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from := order.Status
		if err := order.Complete(actor, req.ProofDocumentURL, log.now); err != nil {
			return err
		}
		if err := uc.repository.UpdateSewingOrder(ctx, tx, order); err != nil {
			return err
		}
		return log.record(EntitySewingOrder, order.ID, order.ProductModelID, from, order.Status, order.ProofDocumentURL)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
