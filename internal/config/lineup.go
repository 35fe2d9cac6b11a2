// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"regexp"
	"strings"
)

var canadianPostal = regexp.MustCompile(`^[A-Z][0-9][A-Z][0-9][A-Z][0-9]$`)

// NormalizePostal strips spaces and upper-cases a postal/ZIP code.
func NormalizePostal(postal string) string {
	return strings.ToUpper(strings.ReplaceAll(postal, " ", ""))
}

// DetectCountry infers the country code from the postal code format:
// five digits is a US ZIP, the A1A1A1 pattern is a Canadian postal code.
func DetectCountry(postal string) string {
	clean := NormalizePostal(postal)
	if len(clean) == 5 && isDigits(clean) {
		return "USA"
	}
	if canadianPostal.MatchString(clean) {
		return "CAN"
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// ResolveID normalizes the lineup identifier to the provider API format.
// An empty or "auto" ID derives an over-the-air lineup from the postal code;
// a short tvtv-style ID ("CAN-OTAJ3B1M4") gets the "-DEFAULT" suffix; fully
// qualified IDs pass through unchanged.
func (l Lineup) ResolveID() (string, error) {
	id := strings.TrimSpace(l.ID)
	if id == "" || strings.EqualFold(id, "auto") {
		country := l.Country
		if country == "" {
			country = DetectCountry(l.PostalCode)
		}
		if country == "" {
			return "", fmt.Errorf("lineup: cannot derive country from postal code %q", l.PostalCode)
		}
		return fmt.Sprintf("%s-OTA%s-DEFAULT", country, NormalizePostal(l.PostalCode)), nil
	}
	if !strings.HasSuffix(id, "-DEFAULT") && !strings.HasSuffix(id, "-X") {
		return id + "-DEFAULT", nil
	}
	return id, nil
}

// ResolveDevice returns the provider device parameter for the lineup:
// "-" for over-the-air lineups, "X" for cable/satellite ones.
func (l Lineup) ResolveDevice() string {
	if l.Device != "" {
		return l.Device
	}
	id, err := l.ResolveID()
	if err != nil {
		return "-"
	}
	if strings.HasSuffix(id, "-X") {
		return "X"
	}
	return "-"
}

// ResolveCountry returns the configured country or the one inferred from
// the postal code.
func (l Lineup) ResolveCountry() string {
	if l.Country != "" {
		return l.Country
	}
	return DetectCountry(l.PostalCode)
}
