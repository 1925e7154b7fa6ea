package hosting

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hitoshi/mediapost/internal/model"
)

func TestNewRegistry_DefaultTargets(t *testing.T) {
	r, err := NewRegistry(DefaultTargets()...)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	imgur, ok := r.Lookup("imgur")
	if !ok {
		t.Fatal("imgur should be registered")
	}
	if !imgur.SupportsBoth() {
		t.Error("imgur should support both protocols")
	}

	addressed, ok := r.ContentAddressedVariant(imgur)
	if !ok || addressed.ID != "imgur-record" {
		t.Errorf("ContentAddressedVariant = %v, %v", addressed.ID, ok)
	}

	linked, ok := r.ExternalLinkVariant(addressed)
	if !ok || linked.ID != "imgur" {
		t.Errorf("ExternalLinkVariant = %v, %v", linked.ID, ok)
	}
}

func TestRegistry_ExternalLinkVariant_NoCounterpart(t *testing.T) {
	r, err := NewRegistry(DefaultTargets()...)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	record, _ := r.Lookup("record")
	if _, ok := r.ExternalLinkVariant(record); ok {
		t.Error("standalone content-addressed target has no external-link variant")
	}

	build, _ := r.Lookup("nostr.build")
	if _, ok := r.ExternalLinkVariant(build); ok {
		t.Error("external-link target should not resolve to another external-link target")
	}
	if _, ok := r.ContentAddressedVariant(build); ok {
		t.Error("single-protocol target has no content-addressed variant")
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name    string
		targets []model.ServerTarget
	}{
		{
			name:    "empty id",
			targets: []model.ServerTarget{{Protocol: model.ProtocolContentAddressed}},
		},
		{
			name: "duplicate id",
			targets: []model.ServerTarget{
				{ID: "a", Protocol: model.ProtocolContentAddressed},
				{ID: "a", Protocol: model.ProtocolContentAddressed},
			},
		},
		{
			name:    "unknown protocol",
			targets: []model.ServerTarget{{ID: "a", Protocol: "ftp"}},
		},
		{
			name:    "http without url field",
			targets: []model.ServerTarget{{ID: "a", Protocol: model.ProtocolExternalLink, Transport: model.TransportHTTP, UploadURL: "https://x"}},
		},
		{
			name:    "unknown transport",
			targets: []model.ServerTarget{{ID: "a", Protocol: model.ProtocolExternalLink, Transport: "ftp"}},
		},
		{
			name:    "missing counterpart",
			targets: []model.ServerTarget{{ID: "a", Protocol: model.ProtocolExternalLink, Transport: model.TransportS3, Counterpart: "b"}},
		},
		{
			name: "counterpart is external-link",
			targets: []model.ServerTarget{
				{ID: "a", Protocol: model.ProtocolExternalLink, Transport: model.TransportS3, Counterpart: "b"},
				{ID: "b", Protocol: model.ProtocolExternalLink, Transport: model.TransportS3},
			},
		},
		{
			name:    "content-addressed with counterpart",
			targets: []model.ServerTarget{{ID: "a", Protocol: model.ProtocolContentAddressed, Counterpart: "a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.targets...); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRegistry_ListAndIDs(t *testing.T) {
	r, err := NewRegistry(
		model.ServerTarget{ID: "z", Protocol: model.ProtocolContentAddressed},
		S3Target(),
	)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	var listed []string
	for _, target := range r.List() {
		listed = append(listed, target.ID)
	}
	if want := []string{"z", "s3"}; !reflect.DeepEqual(listed, want) {
		t.Errorf("List = %v, want %v", listed, want)
	}
	if want := []string{"s3", "z"}; !reflect.DeepEqual(r.IDs(), want) {
		t.Errorf("IDs = %v, want %v", r.IDs(), want)
	}
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	content := `servers:
  - id: mine
    name: My Server
    protocol: external_link
    transport: http
    upload_url: https://media.example.com/upload
    form_field: media
    url_field: result.url
    counterpart: mine-record
  - id: mine-record
    protocol: content_addressed
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	targets, err := LoadRegistryFile(path)
	if err != nil {
		t.Fatalf("LoadRegistryFile returned error: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}

	want := model.ServerTarget{
		ID:          "mine",
		Name:        "My Server",
		Protocol:    model.ProtocolExternalLink,
		Transport:   model.TransportHTTP,
		UploadURL:   "https://media.example.com/upload",
		FormField:   "media",
		URLField:    "result.url",
		Counterpart: "mine-record",
	}
	if !reflect.DeepEqual(targets[0], want) {
		t.Errorf("targets[0] = %+v, want %+v", targets[0], want)
	}
	if targets[1].Name != "mine-record" {
		t.Errorf("Name should default to id, got %q", targets[1].Name)
	}

	if _, err := NewRegistry(targets...); err != nil {
		t.Errorf("loaded targets should be valid: %v", err)
	}
}

func TestParseRegistry_Errors(t *testing.T) {
	if _, err := ParseRegistry([]byte("servers: [")); err == nil {
		t.Error("expected error for invalid yaml")
	}
	if _, err := ParseRegistry([]byte("servers: []")); err == nil {
		t.Error("expected error for empty server list")
	}
	if _, err := LoadRegistryFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseRegistry_ProtocolSpellings(t *testing.T) {
	tests := []struct {
		name      string
		protocol  string
		transport string
	}{
		{"underscore", "external_link", "http"},
		{"hyphen", "external-link", "http"},
		{"upper case", "External-Link", "HTTP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte("servers:\n" +
				"  - id: example\n" +
				"    protocol: " + tt.protocol + "\n" +
				"    transport: " + tt.transport + "\n" +
				"    upload_url: https://upload.example.com/api\n" +
				"    url_field: url\n")

			targets, err := ParseRegistry(data)
			if err != nil {
				t.Fatalf("ParseRegistry returned error: %v", err)
			}
			if targets[0].Protocol != model.ProtocolExternalLink {
				t.Errorf("Protocol = %q, want %q", targets[0].Protocol, model.ProtocolExternalLink)
			}
			if targets[0].Transport != model.TransportHTTP {
				t.Errorf("Transport = %q, want %q", targets[0].Transport, model.TransportHTTP)
			}
			if _, err := NewRegistry(targets...); err != nil {
				t.Errorf("NewRegistry returned error: %v", err)
			}
		})
	}

	targets, err := ParseRegistry([]byte("servers:\n  - id: x\n    protocol: gopher\n"))
	if err != nil {
		t.Fatalf("ParseRegistry returned error: %v", err)
	}
	if _, err := NewRegistry(targets...); err == nil {
		t.Error("expected unknown protocol to be rejected")
	}
}
