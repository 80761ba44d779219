package services

import (
	"net/url"
	"strings"
)

type carrier struct {
	name        string
	aliases     []string
	trackingURL string
}

var carriers = []carrier{
	{name: "USPS", aliases: []string{"usps", "unitedstatespostalservice"}, trackingURL: "https://tools.usps.com/go/TrackConfirmAction?tLabels="},
	{name: "FedEx", aliases: []string{"fedex", "federalexpress"}, trackingURL: "https://www.fedex.com/fedextrack/?trknbr="},
	{name: "UPS", aliases: []string{"ups", "unitedparcelservice"}, trackingURL: "https://www.ups.com/track?tracknum="},
	{name: "DHL", aliases: []string{"dhl", "dhlexpress"}, trackingURL: "https://www.dhl.com/en/express/tracking.html?AWB="},
}

func lookupCarrier(value string) (carrier, bool) {
	key := strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	for _, c := range carriers {
		for _, alias := range c.aliases {
			if alias == key {
				return c, true
			}
		}
	}
	return carrier{}, false
}

// NormalizeCarrierName returns the display name for known carriers and the
// trimmed input otherwise.
func NormalizeCarrierName(name string) string {
	if c, ok := lookupCarrier(name); ok {
		return c.name
	}
	return strings.TrimSpace(name)
}

// BuildTrackingURL returns a carrier tracking link, or "" for unknown carriers.
func BuildTrackingURL(carrierName, trackingNumber string) string {
	number := strings.TrimSpace(trackingNumber)
	if number == "" {
		return ""
	}
	c, ok := lookupCarrier(carrierName)
	if !ok {
		return ""
	}
	return c.trackingURL + url.QueryEscape(number)
}
