package headless

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Texture is a cached texture.
type Texture struct {
	Name          string
	Width, Height int
	BitsPerPixel  int
}

// Bytes returns the texture's memory footprint.
func (t Texture) Bytes() int {
	return t.Width * t.Height * t.BitsPerPixel / 8
}

func defaultTextures() map[string]Texture {
	textures := make(map[string]Texture)
	for _, t := range []Texture{
		{Name: "background.png", Width: 1024, Height: 1024, BitsPerPixel: 32},
		{Name: "logo.png", Width: 256, Height: 256, BitsPerPixel: 32},
		{Name: "button.png", Width: 256, Height: 64, BitsPerPixel: 16},
	} {
		textures[t.Name] = t
	}
	return textures
}

// AddTexture caches t, replacing a texture of the same name.
func (e *Engine) AddTexture(t Texture) {
	e.textures[t.Name] = t
}

// TextureInfo lists the cached textures and their total size.
func (e *Engine) TextureInfo() string {
	names := make([]string, 0, len(e.textures))
	for name := range e.textures {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	total := 0
	for _, name := range names {
		t := e.textures[name]
		total += t.Bytes()
		fmt.Fprintf(&b, "%q %d x %d @ %d bpp => %d KB\n", t.Name, t.Width, t.Height, t.BitsPerPixel, t.Bytes()/1024)
	}
	fmt.Fprintf(&b, "TextureCache: %d textures, for %d KB (%.2f MB)\n", len(names), total/1024, float64(total)/(1024*1024))
	return b.String()
}

// FlushTextures drops every cached texture.
func (e *Engine) FlushTextures() {
	n := len(e.textures)
	clear(e.textures)
	e.log.Info("texture cache purged", zap.Int("textures", n))
}
