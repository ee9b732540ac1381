package telephony

import (
	"errors"
	"testing"
)

func TestCSQToDBm(t *testing.T) {
	testCases := []struct {
		rssi int
		dbm  int
		ok   bool
	}{
		{0, -113, true},
		{1, -111, true},
		{2, -109, true},
		{15, -83, true},
		{30, -53, true},
		{31, -51, true},
		{99, 0, false},
		{45, 0, false},
	}

	for _, tc := range testCases {
		dbm, ok := CSQToDBm(tc.rssi)
		if ok != tc.ok || dbm != tc.dbm {
			t.Errorf("CSQ %d: expected (%d, %v), got (%d, %v)", tc.rssi, tc.dbm, tc.ok, dbm, ok)
		}
	}
}

func TestHandler_ParseCSQ(t *testing.T) {
	h := &handler{format: FormatCSQ}

	testCases := []struct {
		name    string
		line    string
		updates []int
		wantErr bool
	}{
		{"response", "+CSQ: 20,99", []int{-73}, false},
		{"no spaces", "+CSQ:31,0", []int{-51}, false},
		{"not detectable", "+CSQ: 99,99", []int{Unavailable}, false},
		{"echo", "AT+CSQ", nil, false},
		{"final result", "OK", nil, false},
		{"garbage", "+CSQ: ?", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got []int
			err := h.Parse(tc.line, func(dbm int) { got = append(got, dbm) })

			if (err != nil) != tc.wantErr {
				t.Fatalf("Expected error %v, got %v", tc.wantErr, err)
			}
			if len(got) != len(tc.updates) {
				t.Fatalf("Expected updates %v, got %v", tc.updates, got)
			}
			for i := range got {
				if got[i] != tc.updates[i] {
					t.Errorf("Expected updates %v, got %v", tc.updates, got)
				}
			}
		})
	}
}

func TestHandler_ParsePlain(t *testing.T) {
	h := &handler{format: FormatPlain}

	testCases := []struct {
		line    string
		dbm     int
		wantErr bool
	}{
		{"-87", -87, false},
		{"rssi: -71 dBm", -71, false},
		{"signal -95dbm", -95, false},
		{"lte rsrp -110 DBM", -110, false},
		{"no value here", 0, true},
	}

	for _, tc := range testCases {
		var got *int
		err := h.Parse(tc.line, func(dbm int) { got = &dbm })

		if tc.wantErr {
			if err == nil {
				t.Errorf("Line %q: expected error", tc.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("Line %q: unexpected error %v", tc.line, err)
			continue
		}
		if got == nil || *got != tc.dbm {
			t.Errorf("Line %q: expected %d, got %v", tc.line, tc.dbm, got)
		}
	}
}

func TestNewHandler_Validation(t *testing.T) {
	if _, err := NewHandler("xml", []string{"true"}); err == nil {
		t.Error("Expected error for unknown format")
	}
	if _, err := NewHandler(FormatCSQ, nil); err == nil {
		t.Error("Expected error for empty command")
	}
	if _, err := NewHandler(FormatCSQ, []string{"definitely-not-a-modem-tool"}); !errors.Is(err, ErrRuntimeNotFound) {
		t.Errorf("Expected ErrRuntimeNotFound, got %v", err)
	}
}
