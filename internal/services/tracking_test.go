package services

import "testing"

func TestNormalizeCarrierName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "usps", want: "USPS"},
		{in: " Federal Express ", want: "FedEx"},
		{in: "united-parcel-service", want: "UPS"},
		{in: "OnTrac", want: "OnTrac"},
		{in: "  ", want: ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeCarrierName(tc.in); got != tc.want {
				t.Fatalf("NormalizeCarrierName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuildTrackingURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		carrier        string
		trackingNumber string
		want           string
	}{
		{
			name:           "usps url",
			carrier:        "USPS",
			trackingNumber: "9400111899223856925034",
			want:           "https://tools.usps.com/go/TrackConfirmAction?tLabels=9400111899223856925034",
		},
		{
			name:           "ups url escapes number",
			carrier:        "ups",
			trackingNumber: "1Z 999",
			want:           "https://www.ups.com/track?tracknum=1Z+999",
		},
		{
			name:           "unknown carrier has no url",
			carrier:        "OnTrac",
			trackingNumber: "12345",
		},
		{
			name:    "empty tracking number has no url",
			carrier: "USPS",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := BuildTrackingURL(tc.carrier, tc.trackingNumber); got != tc.want {
				t.Fatalf("BuildTrackingURL() = %q, want %q", got, tc.want)
			}
		})
	}
}
