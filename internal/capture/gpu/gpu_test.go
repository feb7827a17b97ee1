package gpu

import (
	"os"
	"testing"
)

func TestDetectVendor(t *testing.T) {
	tests := []struct {
		name       string
		vendor     string
		devName    string
		wantVendor Vendor
		wantDeck   bool
	}{
		{"amd radeon", "AMD", "Radeon RX 6800", VendorAMD, false},
		{"steam deck vangogh", "AMD", "AMD Custom GPU 0405 (VANGOGH)", VendorAMD, true},
		{"intel", "Intel", "Intel(R) UHD Graphics 630", VendorIntel, false},
		{"nvidia geforce", "NVIDIA", "NVIDIA GeForce RTX 3080", VendorNVIDIA, false},
		{"unknown", "Acme", "Acme Graphics 1", VendorUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotVendor, gotDeck := detectVendor(tt.vendor, tt.devName)
			if gotVendor != tt.wantVendor {
				t.Errorf("vendor = %v, want %v", gotVendor, tt.wantVendor)
			}
			if gotDeck != tt.wantDeck {
				t.Errorf("isSteamDeck = %v, want %v", gotDeck, tt.wantDeck)
			}
		})
	}
}

func TestValidateOutputName(t *testing.T) {
	outputs := []Output{{Name: "DP-1"}, {Name: "HDMI-A-1"}}

	if err := ValidateOutputName(outputs, "DP-1"); err != nil {
		t.Fatalf("known output rejected: %v", err)
	}
	if err := ValidateOutputName(outputs, "DP-99"); err == nil {
		t.Fatal("expected error for unknown output name")
	}
}

func TestScrubPrimeEnvUnsetsKnownVars(t *testing.T) {
	t.Setenv("DRI_PRIME", "1")
	scrubPrimeEnv()
	if _, ok := os.LookupEnv("DRI_PRIME"); ok {
		t.Fatal("DRI_PRIME should have been unset")
	}
}
