package openrtb

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBidRequest_JSONRoundTrip(t *testing.T) {
	original := &BidRequest{
		ID: "req-123",
		Imp: []Imp{
			{
				ID:       "1",
				BidFloor: 0.50,
				Banner:   &Banner{W: 300, H: 250, Mimes: []string{"image/gif"}},
			},
		},
		Device: &Device{
			UA:  "Mozilla/5.0",
			IP:  "192.168.1.0",
			Geo: &Geo{Region: "beijing", City: "beijing"},
		},
		AT:   SecondPriceAuction,
		TMax: 100,
		BCat: []string{"IAB25"},
	}

	data, err := EncodeRequest(original)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded BidRequest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID mismatch: got %s, want %s", decoded.ID, original.ID)
	}
	if len(decoded.Imp) != 1 {
		t.Fatalf("expected 1 impression, got %d", len(decoded.Imp))
	}
	if decoded.Imp[0].BidFloor != 0.50 {
		t.Errorf("BidFloor mismatch: got %f, want 0.50", decoded.Imp[0].BidFloor)
	}
	if decoded.Imp[0].Banner.Mimes[0] != "image/gif" {
		t.Errorf("mimes mismatch: got %v", decoded.Imp[0].Banner.Mimes)
	}
	if decoded.Device.Geo.City != "beijing" {
		t.Errorf("Geo.City mismatch: got %s", decoded.Device.Geo.City)
	}
	if decoded.TMax != 100 {
		t.Errorf("TMax mismatch: got %d, want 100", decoded.TMax)
	}
}

func TestBidRequest_OmitsEmptyBlockLists(t *testing.T) {
	req := &BidRequest{
		ID:     "req-1",
		Imp:    []Imp{{ID: "1", Banner: &Banner{W: 300, H: 50}, BidFloor: 0.1}},
		Device: &Device{UA: "ua", IP: "1.2.3.0"},
	}

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	body := string(data)
	for _, key := range []string{`"bcat"`, `"badv"`, `"wseat"`, `"geo"`} {
		if strings.Contains(body, key) {
			t.Errorf("expected %s to be omitted, got %s", key, body)
		}
	}
	// dnt is always present, even when zero
	if !strings.Contains(body, `"dnt":0`) {
		t.Errorf("expected dnt field, got %s", body)
	}
}

func TestEncodeRequest_Deterministic(t *testing.T) {
	req := &BidRequest{
		ID:     "same",
		Imp:    []Imp{{ID: "1", Banner: &Banner{W: 300, H: 250}, BidFloor: 1.2}},
		Device: &Device{UA: "ua", IP: "10.0.0.0"},
		BAdv:   []string{"a.com", "b.com"},
	}

	first, err := EncodeRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := EncodeRequest(req)
		if err != nil {
			t.Fatal(err)
		}
		if string(again) != string(first) {
			t.Fatalf("encoding differs: %s vs %s", again, first)
		}
	}
}

func TestEncodeRequest_Nil(t *testing.T) {
	if _, err := EncodeRequest(nil); err == nil {
		t.Error("expected error for nil request")
	}
}
