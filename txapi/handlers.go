package txapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/coordinator"
)

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var unknown *unknownTxError
	var dynErr *dynatx.Error
	switch {
	case errors.As(err, &unknown):
		status = http.StatusNotFound
	case errors.As(err, &dynErr):
		switch {
		case dynatx.IsNotExistingItem(err):
			status = http.StatusNotFound
		case dynatx.IsConditionalCheckFailed(err):
			status = http.StatusConflict
		case errors.Is(err, dynatx.ErrTransactionTerminated):
			status = http.StatusConflict
		case errors.Is(err, dynatx.ErrKeyConfiguration):
			status = http.StatusBadRequest
		}
	}
	c.IndentedJSON(status, errorResponse{Message: err.Error()})
}

// BeginTx godoc
// @Summary Begin a transaction
// @Description Bootstraps the auxiliary tables if needed and opens a new transaction at the
// @Description requested isolation level ("full_lock", "read_committed" or "read_uncommitted";
// @Description defaults to read_committed).
// @Tags Transactions
// @Accept json
// @Produce json
// @Param request body beginRequest true "transaction parameters"
// @Success 200 {object} beginResponse
// @Failure 500 {object} errorResponse
// @Router /tx [post]
// @Security Bearer
func BeginTx(c *gin.Context) {
	var req beginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	isolation := dynatx.IsolationLevel(req.Isolation)
	switch req.Isolation {
	case "", "read_committed":
		isolation = dynatx.ReadCommitted
	case "full_lock":
		isolation = dynatx.FullLock
	case "read_uncommitted":
		isolation = dynatx.ReadUncommitted
	}

	tx, err := coordinator.New(c.Request.Context(), deps.client, deps.resolver, deps.config, req.Name, isolation)
	if err != nil {
		fail(c, err)
		return
	}
	registry.put(tx)
	c.IndentedJSON(http.StatusOK, beginResponse{TxID: tx.UUID().String()})
}

func resolveHandle(c *gin.Context, txID string, ref itemRef) (*coordinator.Tx, *coordinator.ItemHandle, bool) {
	tx, err := lookupTx(txID)
	if err != nil {
		fail(c, err)
		return nil, nil, false
	}

	hv, err := rawKeyValue(c.Request.Context(), deps.resolver, ref.Table, true, ref.HashValue)
	if err != nil {
		fail(c, err)
		return nil, nil, false
	}

	var h *coordinator.ItemHandle
	if ref.RangeValue != "" || ref.HasRange {
		rv, err := rawKeyValue(c.Request.Context(), deps.resolver, ref.Table, false, ref.RangeValue)
		if err != nil {
			fail(c, err)
			return nil, nil, false
		}
		h, err = tx.GetItem(c.Request.Context(), ref.Table, hv, rv)
		if err != nil {
			fail(c, err)
			return nil, nil, false
		}
	} else {
		h, err = tx.GetItem(c.Request.Context(), ref.Table, hv)
		if err != nil {
			fail(c, err)
			return nil, nil, false
		}
	}
	return tx, h, true
}

// GetTxItem godoc
// @Summary Read an item within a transaction
// @Description Resolves the key, acquires the lock the transaction's isolation level calls
// @Description for, and performs a consistent read.
// @Tags Transactions
// @Accept json
// @Produce json
// @Param id path string true "transaction id"
// @Param request body getRequest true "item to read"
// @Success 200 {object} itemResponse
// @Failure 404 {object} errorResponse
// @Router /tx/{id}/item [post]
// @Security Bearer
func GetTxItem(c *gin.Context) {
	var req getRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	_, h, ok := resolveHandle(c, c.Param("id"), req.itemRef)
	if !ok {
		return
	}
	item, err := h.Get(c.Request.Context(), req.ProjectAttrs...)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, itemResponse{Item: item})
}

// PutTxItem godoc
// @Summary Write an item within a transaction
// @Description Acquires X, conditioned on the caller's Expected map plus the transaction owning
// @Description any existing exclusive lock, and logs the inverse for rollback.
// @Tags Transactions
// @Accept json
// @Produce json
// @Param id path string true "transaction id"
// @Param request body mutateRequest true "item to write"
// @Success 200 {object} itemResponse
// @Failure 409 {object} errorResponse
// @Router /tx/{id}/item [put]
// @Security Bearer
func PutTxItem(c *gin.Context) {
	var req mutateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	_, h, ok := resolveHandle(c, c.Param("id"), req.itemRef)
	if !ok {
		return
	}
	old, err := h.Put(c.Request.Context(), req.Item, req.Expected)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, itemResponse{Item: old})
}

// UpdateTxItem godoc
// @Summary Update an item within a transaction
// @Tags Transactions
// @Accept json
// @Produce json
// @Param id path string true "transaction id"
// @Param request body mutateRequest true "attribute updates"
// @Success 200 {object} itemResponse
// @Failure 409 {object} errorResponse
// @Router /tx/{id}/item [patch]
// @Security Bearer
func UpdateTxItem(c *gin.Context) {
	var req mutateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	_, h, ok := resolveHandle(c, c.Param("id"), req.itemRef)
	if !ok {
		return
	}
	old, err := h.Update(c.Request.Context(), req.Updates, req.Expected)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, itemResponse{Item: old})
}

// DeleteTxItem godoc
// @Summary Delete an item within a transaction
// @Tags Transactions
// @Accept json
// @Produce json
// @Param id path string true "transaction id"
// @Param request body mutateRequest true "item to delete"
// @Success 200 {object} itemResponse
// @Failure 409 {object} errorResponse
// @Router /tx/{id}/item [delete]
// @Security Bearer
func DeleteTxItem(c *gin.Context) {
	var req mutateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	_, h, ok := resolveHandle(c, c.Param("id"), req.itemRef)
	if !ok {
		return
	}
	old, err := h.Delete(c.Request.Context(), req.Expected)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, itemResponse{Item: old})
}

// CommitTx godoc
// @Summary Commit a transaction
// @Tags Transactions
// @Produce json
// @Param id path string true "transaction id"
// @Success 204
// @Failure 409 {object} errorResponse
// @Router /tx/{id}/commit [post]
// @Security Bearer
func CommitTx(c *gin.Context) {
	tx, err := lookupTx(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := tx.Commit(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	registry.remove(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// RollbackTx godoc
// @Summary Roll back a transaction
// @Tags Transactions
// @Produce json
// @Param id path string true "transaction id"
// @Success 204
// @Failure 409 {object} errorResponse
// @Router /tx/{id}/rollback [post]
// @Security Bearer
func RollbackTx(c *gin.Context) {
	tx, err := lookupTx(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := tx.Rollback(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	registry.remove(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// Sweep godoc
// @Summary Roll back abandoned transactions
// @Description Runs the crash-recovery sweep over every tx-info row older than olderThanSeconds
// @Description still in START or IN-FLIGHT.
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param request body sweepRequest true "sweep parameters"
// @Success 200 {object} sweepResponse
// @Router /sweep [post]
// @Security Bearer
func Sweep(c *gin.Context) {
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	swept, err := coordinator.Sweep(c.Request.Context(), deps.client, deps.config, secondsToDuration(req.OlderThanSeconds))
	if err != nil {
		fail(c, err)
		return
	}
	ids := make([]string, len(swept))
	for i, u := range swept {
		ids[i] = u.String()
	}
	c.IndentedJSON(http.StatusOK, sweepResponse{Swept: ids})
}

// CollectGarbage godoc
// @Summary Collect terminal transaction rows
// @Description Deletes tx-info/tx-data rows for COMMIT/ROLLBACK transactions older than
// @Description olderThanSeconds, without archiving (archival is cmd/sweepd's job).
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param request body gcRequest true "gc parameters"
// @Success 200 {object} gcResponse
// @Router /gc [post]
// @Security Bearer
func CollectGarbage(c *gin.Context) {
	var req gcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	n, err := coordinator.CollectGarbage(c.Request.Context(), deps.client, deps.config, secondsToDuration(req.OlderThanSeconds), nil)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gcResponse{Collected: n})
}
