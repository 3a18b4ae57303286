package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammed-shakir/clipship/internal/imagesvc"
)

var (
	ErrInvalidInput         = errors.New("pipeline: invalid input")
	ErrNotImageServiceLayer = errors.New("pipeline: layer is not an image service layer")
)

const imageServiceLayerType = "CIMImageServiceLayer"

// layer document, reduced to what locates the service
type layerDocument struct {
	Type             string      `json:"type"`
	LayerDefinitions []layerDef  `json:"layerDefinitions"`
	DataConnection   *connection `json:"dataConnection"`
}

type layerDef struct {
	Type           string      `json:"type"`
	Name           string      `json:"name"`
	DataConnection *connection `json:"dataConnection"`
}

type connection struct {
	Type                      string `json:"type"`
	URL                       string `json:"url"`
	WorkspaceConnectionString string `json:"workspaceConnectionString"`
	Dataset                   string `json:"dataset"`
}

// ResolveService turns the run's service reference into an image service
// URL. A path to an existing .lyrx or .json layer file is read and must
// hold an image service layer; anything else must be an http(s) URL naming
// an ImageServer.
func ResolveService(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty service reference", ErrInvalidInput)
	}
	ext := strings.ToLower(filepath.Ext(ref))
	if ext == ".lyrx" || ext == ".json" {
		if st, err := os.Stat(ref); err == nil && !st.IsDir() {
			return resolveLayerFile(ref)
		}
	}
	if imagesvc.IsImageServerURL(ref) {
		return ref, nil
	}
	return "", fmt.Errorf("%w: %q is neither an image service layer file nor an ImageServer URL", ErrInvalidInput, ref)
}

func resolveLayerFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("%w: read layer file: %v", ErrInvalidInput, err)
	}
	var doc layerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%w: parse layer file %s: %v", ErrInvalidInput, path, err)
	}

	defs := doc.LayerDefinitions
	if len(defs) == 0 && doc.Type != "" {
		defs = []layerDef{{Type: doc.Type, DataConnection: doc.DataConnection}}
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("%w: %s has no layer definitions", ErrNotImageServiceLayer, path)
	}
	for _, d := range defs {
		if d.Type != imageServiceLayerType {
			continue
		}
		u := d.DataConnection.serviceURL()
		if u == "" || !imagesvc.IsImageServerURL(u) {
			return "", fmt.Errorf("%w: layer %q does not point at an ImageServer", ErrNotImageServiceLayer, d.Name)
		}
		return u, nil
	}
	return "", fmt.Errorf("%w: %s holds %s", ErrNotImageServiceLayer, path, defs[0].Type)
}

func (c *connection) serviceURL() string {
	if c == nil {
		return ""
	}
	if c.URL != "" {
		return c.URL
	}
	// workspaceConnectionString looks like "URL=https://host/.../ImageServer;USER=..."
	for _, part := range strings.Split(c.WorkspaceConnectionString, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "URL") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
