package hss

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleRegData = `<?xml version="1.0" encoding="UTF-8"?>
<ClearwaterRegData>
  <RegistrationState>REGISTERED</RegistrationState>
  <ServiceProfile>
    <PublicIdentity>
      <Identity>sip:alice@example.com</Identity>
    </PublicIdentity>
    <InitialFilterCriteria>
      <Priority>0</Priority>
      <TriggerPoint>
        <ConditionTypeCNF>0</ConditionTypeCNF>
        <SPT>
          <ConditionNegated>0</ConditionNegated>
          <Group>0</Group>
          <Method>INVITE</Method>
        </SPT>
      </TriggerPoint>
      <ApplicationServer>
        <ServerName>sip:as1.example.com</ServerName>
        <DefaultHandling>0</DefaultHandling>
      </ApplicationServer>
    </InitialFilterCriteria>
  </ServiceProfile>
  <ChargingAddresses>
    <CCF priority="1">ccf1.example.com</CCF>
    <ECF priority="1">ecf1.example.com</ECF>
  </ChargingAddresses>
</ClearwaterRegData>`

func TestUpdateRegistrationStateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sampleRegData))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	result, err := c.UpdateRegistrationState(context.Background(), "sip:alice@example.com", "alice@example.com", OpReg, 300, "trail-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Registered {
		t.Fatal("expected Registered=true")
	}
	if len(result.URIs) != 1 || result.URIs[0] != "sip:alice@example.com" {
		t.Fatalf("unexpected URIs: %v", result.URIs)
	}
	if len(result.IFCs) != 1 || result.IFCs[0].AppServerURI != "sip:as1.example.com" {
		t.Fatalf("unexpected IFCs: %+v", result.IFCs)
	}
	if len(result.CCFs) != 1 || result.CCFs[0] != "ccf1.example.com" {
		t.Fatalf("unexpected CCFs: %v", result.CCFs)
	}
}

func TestUpdateRegistrationStateNotFoundMapsTo403Sentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	_, err := c.UpdateRegistrationState(context.Background(), "sip:ghost@example.com", "ghost@example.com", OpReg, 300, "trail-2")
	if err == nil {
		t.Fatal("expected error")
	}
	if !isErrNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadServerErrorMapsToUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	_, err := c.Read(context.Background(), "sip:alice@example.com", "trail-3")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func isErrNotFound(err error) bool {
	for err != nil {
		if err == ErrNotFound {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return false
}
