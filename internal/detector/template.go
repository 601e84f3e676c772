package detector

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"
)

var (
	// ErrTemplateDir is returned when the template directory cannot be read.
	ErrTemplateDir = errors.New("template directory unavailable")
	// ErrNoTemplates is returned when a directory holds no usable images.
	ErrNoTemplates = errors.New("no template images found")
	// ErrBadImage is returned when an image file cannot be decoded.
	ErrBadImage = errors.New("unreadable template image")
	// ErrMissingTemplate is returned when a required template key is absent.
	ErrMissingTemplate = errors.New("required template missing")
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Template is a named grayscale reference patch.
type Template struct {
	Name string
	Mat  gocv.Mat
}

// Size returns the template width and height.
func (t *Template) Size() image.Point {
	return image.Point{X: t.Mat.Cols(), Y: t.Mat.Rows()}
}

// Close releases the template pixels.
func (t *Template) Close() error {
	return t.Mat.Close()
}

// Library is an immutable set of templates keyed by name.
type Library struct {
	dir       string
	templates map[string]*Template
}

// NewLibrary builds a Library from already decoded templates. The library
// takes ownership of their Mats.
func NewLibrary(templates ...*Template) *Library {
	lib := &Library{templates: make(map[string]*Template, len(templates))}
	for _, t := range templates {
		lib.templates[t.Name] = t
	}
	return lib
}

// Load reads every .png, .jpg and .jpeg file of dir as a grayscale template
// keyed by its base name. It fails if the directory is unreadable, holds no
// images, holds an undecodable image, or lacks one of the required keys.
func Load(dir string, required ...string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateDir, dir, err)
	}

	lib := &Library{dir: dir, templates: make(map[string]*Template)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !imageExtensions[ext] {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		mat := gocv.IMRead(path, gocv.IMReadGrayScale)
		if mat.Empty() {
			mat.Close()
			lib.Close()
			return nil, fmt.Errorf("%w: %s", ErrBadImage, path)
		}

		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if prev, ok := lib.templates[name]; ok {
			prev.Close()
		}
		lib.templates[name] = &Template{Name: name, Mat: mat}
	}

	if len(lib.templates) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTemplates, dir)
	}

	for _, name := range required {
		if _, ok := lib.templates[name]; !ok {
			lib.Close()
			return nil, fmt.Errorf("%w: %s in %s", ErrMissingTemplate, name, dir)
		}
	}

	return lib, nil
}

// Dir returns the directory the library was loaded from, if any.
func (l *Library) Dir() string {
	return l.dir
}

// Get returns the template called name.
func (l *Library) Get(name string) (*Template, bool) {
	t, ok := l.templates[name]
	return t, ok
}

// Select returns the named templates in the given order, skipping unknown
// names.
func (l *Library) Select(names ...string) []*Template {
	out := make([]*Template, 0, len(names))
	for _, name := range names {
		if t, ok := l.templates[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Names returns every template name in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every template, sorted by name.
func (l *Library) All() []*Template {
	return l.Select(l.Names()...)
}

// Len returns the number of templates.
func (l *Library) Len() int {
	return len(l.templates)
}

// Close releases every template.
func (l *Library) Close() error {
	var errs []error
	for _, t := range l.templates {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
