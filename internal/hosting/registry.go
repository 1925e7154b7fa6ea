// Package hosting はメディアのホスティング先の登録とアップロードを提供する。
package hosting

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/mediapost/internal/model"
)

// Registry は登録済みのServerTargetをIDで保持する。
// 生成後は読み取り専用で、複数のゴルーチンから安全に参照できる。
type Registry struct {
	targets map[string]model.ServerTarget
	order   []string
}

// DefaultTargets は組み込みのホスティング先を返す。
func DefaultTargets() []model.ServerTarget {
	return []model.ServerTarget{
		{
			ID:          "imgur",
			Name:        "imgur.com",
			Protocol:    model.ProtocolExternalLink,
			Transport:   model.TransportHTTP,
			UploadURL:   "https://api.imgur.com/3/image",
			FormField:   "image",
			URLField:    "data.link",
			MimeField:   "data.type",
			Counterpart: "imgur-record",
		},
		{ID: "imgur-record", Name: "imgur.com (record)", Protocol: model.ProtocolContentAddressed},
		{
			ID:          "nostrimg",
			Name:        "nostrimg.com",
			Protocol:    model.ProtocolExternalLink,
			Transport:   model.TransportHTTP,
			UploadURL:   "https://nostrimg.com/api/upload",
			FormField:   "image",
			URLField:    "data.link",
			Counterpart: "nostrimg-record",
		},
		{ID: "nostrimg-record", Name: "nostrimg.com (record)", Protocol: model.ProtocolContentAddressed},
		{
			ID:        "nostr.build",
			Name:      "nostr.build",
			Protocol:  model.ProtocolExternalLink,
			Transport: model.TransportHTTP,
			UploadURL: "https://nostr.build/api/v2/upload/files",
			FormField: "file",
			URLField:  "data.0.url",
			MimeField: "data.0.mime",
		},
		{ID: "record", Name: "Embedded in record", Protocol: model.ProtocolContentAddressed},
	}
}

// NewRegistry はターゲットを検証してRegistryを生成する。
func NewRegistry(targets ...model.ServerTarget) (*Registry, error) {
	r := &Registry{targets: make(map[string]model.ServerTarget, len(targets))}
	for _, t := range targets {
		if err := validateTarget(t); err != nil {
			return nil, err
		}
		if _, dup := r.targets[t.ID]; dup {
			return nil, fmt.Errorf("duplicate hosting target id: %s", t.ID)
		}
		r.targets[t.ID] = t
		r.order = append(r.order, t.ID)
	}

	// counterpartは登録済みのcontent-addressedターゲットでなければならない
	for _, t := range r.targets {
		if t.Counterpart == "" {
			continue
		}
		c, ok := r.targets[t.Counterpart]
		if !ok {
			return nil, fmt.Errorf("hosting target %s: counterpart %s is not registered", t.ID, t.Counterpart)
		}
		if c.Protocol != model.ProtocolContentAddressed {
			return nil, fmt.Errorf("hosting target %s: counterpart %s is not content-addressed", t.ID, t.Counterpart)
		}
	}
	return r, nil
}

func validateTarget(t model.ServerTarget) error {
	if t.ID == "" {
		return fmt.Errorf("hosting target id is required")
	}
	switch t.Protocol {
	case model.ProtocolContentAddressed:
		if t.Counterpart != "" {
			return fmt.Errorf("hosting target %s: content-addressed target cannot have a counterpart", t.ID)
		}
		return nil
	case model.ProtocolExternalLink:
	default:
		return fmt.Errorf("hosting target %s: unknown protocol %q", t.ID, t.Protocol)
	}

	switch t.Transport {
	case model.TransportHTTP:
		if t.UploadURL == "" || t.URLField == "" {
			return fmt.Errorf("hosting target %s: upload_url and url_field are required", t.ID)
		}
	case model.TransportS3:
	default:
		return fmt.Errorf("hosting target %s: unknown transport %q", t.ID, t.Transport)
	}
	return nil
}

// registryFile はHOSTING_SERVERS_FILEのYAML構造。
type registryFile struct {
	Servers []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Protocol    string `yaml:"protocol"`
		Transport   string `yaml:"transport"`
		UploadURL   string `yaml:"upload_url"`
		FormField   string `yaml:"form_field"`
		URLField    string `yaml:"url_field"`
		MimeField   string `yaml:"mime_field"`
		Counterpart string `yaml:"counterpart"`
	} `yaml:"servers"`
}

// LoadRegistryFile はYAMLファイルからターゲット一覧を読み込む。
// ファイルの内容は組み込みのターゲットを置き換える。
func LoadRegistryFile(path string) ([]model.ServerTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosting servers file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry はYAMLのバイト列からターゲット一覧を読み込む。
func ParseRegistry(data []byte) ([]model.ServerTarget, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse hosting servers file: %w", err)
	}
	if len(f.Servers) == 0 {
		return nil, fmt.Errorf("hosting servers file has no servers")
	}

	targets := make([]model.ServerTarget, 0, len(f.Servers))
	for _, s := range f.Servers {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		targets = append(targets, model.ServerTarget{
			ID:          s.ID,
			Name:        name,
			Protocol:    model.Protocol(normalizeName(s.Protocol)),
			Transport:   model.Transport(normalizeName(s.Transport)),
			UploadURL:   s.UploadURL,
			FormField:   s.FormField,
			URLField:    s.URLField,
			MimeField:   s.MimeField,
			Counterpart: s.Counterpart,
		})
	}
	return targets, nil
}

// normalizeName は方式名の表記揺れ（大文字、ハイフン区切り）を吸収する。
func normalizeName(v string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), "-", "_")
}

// Lookup はIDに対応するターゲットを返す。
func (r *Registry) Lookup(id string) (model.ServerTarget, bool) {
	t, ok := r.targets[id]
	return t, ok
}

// ExternalLinkVariant はcontent-addressedターゲットを自身のcounterpartとして持つ
// external-linkターゲットを返す。
func (r *Registry) ExternalLinkVariant(target model.ServerTarget) (model.ServerTarget, bool) {
	if target.Protocol != model.ProtocolContentAddressed {
		return model.ServerTarget{}, false
	}
	for _, id := range r.order {
		if t := r.targets[id]; t.Counterpart == target.ID {
			return t, true
		}
	}
	return model.ServerTarget{}, false
}

// ContentAddressedVariant は両方式に対応するターゲットのcontent-addressed版を返す。
func (r *Registry) ContentAddressedVariant(target model.ServerTarget) (model.ServerTarget, bool) {
	if !target.SupportsBoth() {
		return model.ServerTarget{}, false
	}
	t, ok := r.targets[target.Counterpart]
	return t, ok
}

// List は登録順のターゲット一覧を返す。
func (r *Registry) List() []model.ServerTarget {
	out := make([]model.ServerTarget, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.targets[id])
	}
	return out
}

// IDs はソート済みのターゲットID一覧を返す。
func (r *Registry) IDs() []string {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}
