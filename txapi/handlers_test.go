package txapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/keyresolver"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/store/memory"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c := memory.New()
	if err := c.CreateTable(context.Background(), store.CreateTableInput{
		TableName:            "accounts",
		AttributeDefinitions: []store.AttributeDefinition{{AttributeName: "id", AttributeType: dynatx.TypeS}},
		KeySchema:            []store.KeySchemaElement{{AttributeName: "id", KeyType: store.KeyTypeHash}},
	}); err != nil {
		t.Fatal(err)
	}
	Configure(c, keyresolver.New(c, nil), dynatx.Config{}.WithDefaults())

	restMethods = make(map[string]RestMethod)
	registry = newTxRegistry()

	r := gin.New()
	r.POST("/tx", BeginTx)
	r.POST("/tx/:id/item", GetTxItem)
	r.PUT("/tx/:id/item", PutTxItem)
	r.PATCH("/tx/:id/item", UpdateTxItem)
	r.DELETE("/tx/:id/item", DeleteTxItem)
	r.POST("/tx/:id/commit", CommitTx)
	r.POST("/tx/:id/rollback", RollbackTx)
	r.POST("/sweep", Sweep)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func beginTx(t *testing.T, r *gin.Engine) string {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/tx", beginRequest{Name: "t1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("begin status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp beginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.TxID
}

func TestBeginPutCommitRoundTrip(t *testing.T) {
	r := newTestRouter(t)
	txID := beginTx(t, r)

	rec := doJSON(t, r, http.MethodPut, "/tx/"+txID+"/item", mutateRequest{
		itemRef: itemRef{Table: "accounts", HashValue: "a"},
		Item:    dynatx.Item{"bal": dynatx.N("10")},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodPost, "/tx/"+txID+"/commit", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("commit status=%d body=%s", rec.Code, rec.Body.String())
	}

	if _, ok := registry.get(txID); ok {
		t.Fatal("expected tx removed from registry after commit")
	}
}

func TestGetMissingItemReturns404(t *testing.T) {
	r := newTestRouter(t)
	txID := beginTx(t, r)

	rec := doJSON(t, r, http.MethodPost, "/tx/"+txID+"/item", getRequest{
		itemRef: itemRef{Table: "accounts", HashValue: "nope"},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUnknownTxReturns404(t *testing.T) {
	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/tx/does-not-exist/commit", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUpdateThenRollbackRestoresOriginal(t *testing.T) {
	r := newTestRouter(t)
	txID := beginTx(t, r)
	doJSON(t, r, http.MethodPut, "/tx/"+txID+"/item", mutateRequest{
		itemRef: itemRef{Table: "accounts", HashValue: "a"},
		Item:    dynatx.Item{"bal": dynatx.N("10")},
	})
	doJSON(t, r, http.MethodPost, "/tx/"+txID+"/commit", nil)

	txID2 := beginTx(t, r)
	rec := doJSON(t, r, http.MethodPatch, "/tx/"+txID2+"/item", mutateRequest{
		itemRef: itemRef{Table: "accounts", HashValue: "a"},
		Updates: map[string]store.AttributeUpdate{"bal": {Action: store.ActionPut, Value: dynatx.N("20")}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, r, http.MethodPost, "/tx/"+txID2+"/rollback", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("rollback status=%d body=%s", rec.Code, rec.Body.String())
	}

	txID3 := beginTx(t, r)
	rec = doJSON(t, r, http.MethodPost, "/tx/"+txID3+"/item", getRequest{
		itemRef: itemRef{Table: "accounts", HashValue: "a"},
	})
	var resp itemResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Item["bal"].Str != "10" {
		t.Fatalf("expected rollback to restore bal=10, got %v", resp.Item["bal"])
	}
}
