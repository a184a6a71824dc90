package verity

import "testing"

func TestParseFormatOutput(t *testing.T) {
	raw := "VERITY header information for image.img\n" +
		"UUID:            	abc-123\n" +
		"Hash type:       	1\n" +
		"Data blocks:     	2560\n" +
		"Salt:            	deadbeef\n" +
		"Root hash:       	cafef00d\n"

	ht, err := parseFormatOutput(raw)
	if err != nil {
		t.Fatalf("parseFormatOutput: %v", err)
	}
	if ht.RootHash != "cafef00d" {
		t.Fatalf("RootHash = %q, want cafef00d", ht.RootHash)
	}
	if ht.Salt != "deadbeef" {
		t.Fatalf("Salt = %q, want deadbeef", ht.Salt)
	}
}

func TestParseFormatOutputMissingRootHash(t *testing.T) {
	if _, err := parseFormatOutput("nothing useful here"); err == nil {
		t.Fatal("expected error when root hash is absent")
	}
}
