// Package loader provides the application images that the kernel turns into
// tasks.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source provides application images by index.
type Source interface {
	// NumApps returns the number of applications.
	NumApps() int

	// AppData returns the ELF image of application i.
	AppData(i int) []byte
}

// App is a named application image.
type App struct {
	Name string
	Data []byte
}

// Images is an in-memory list of applications.
type Images []App

// NumApps returns the number of applications.
func (imgs Images) NumApps() int {
	return len(imgs)
}

// AppData returns the ELF image of application i.
func (imgs Images) AppData(i int) []byte {
	return imgs[i].Data
}

// AppName returns the name of application i.
func (imgs Images) AppName(i int) string {
	return imgs[i].Name
}

// Dir loads every regular file in dir as an application. Applications are
// ordered by file name; hidden files are skipped.
func Dir(dir string) (Images, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}

	var imgs Images
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loader: %w", err)
		}

		imgs = append(imgs, App{
			Name: strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Data: data,
		})
	}

	if len(imgs) == 0 {
		return nil, fmt.Errorf("loader: no applications found in %s", dir)
	}
	return imgs, nil
}
