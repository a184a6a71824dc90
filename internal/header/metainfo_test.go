package header_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/header"
)

func TestMetaInfoEncodeParseRoundTrip(t *testing.T) {
	m := &header.MetaInfo{
		ImageType:  header.ImageTypeRealmFS,
		Channel:    "realmfs-user",
		RealmFSName: "work",
		Version:    7,
		NBlocks:    1024,
		VeritySalt: "aa",
		VerityRoot: "bb",
	}
	enc, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := header.ParseMetaInfo(enc)
	if err != nil {
		t.Fatalf("ParseMetaInfo: %v", err)
	}
	if *got != *m {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, m)
	}
}

func TestMetaInfoValidateRealmFSRequiresName(t *testing.T) {
	m := &header.MetaInfo{ImageType: header.ImageTypeRealmFS, NBlocks: 1}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error when realmfs-name is missing")
	}
}

func TestMetaInfoValidateModulesRequiresKernelVersion(t *testing.T) {
	m := &header.MetaInfo{ImageType: header.ImageTypeModules, NBlocks: 1}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error when kernel-version is missing for modules")
	}
}

func TestMetaInfoIsSealed(t *testing.T) {
	unsealed := &header.MetaInfo{ImageType: header.ImageTypeRealmFS, RealmFSName: "x", NBlocks: 1}
	if unsealed.IsSealed() {
		t.Fatal("expected unsealed")
	}
	sealed := &header.MetaInfo{ImageType: header.ImageTypeRealmFS, RealmFSName: "x", NBlocks: 1, VeritySalt: "a", VerityRoot: "b"}
	if !sealed.IsSealed() {
		t.Fatal("expected sealed")
	}
}

func TestMetaInfoValidateSaltRootPairing(t *testing.T) {
	m := &header.MetaInfo{ImageType: header.ImageTypeRootfs, NBlocks: 1, VeritySalt: "a"}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error when only verity-salt is set")
	}
}
