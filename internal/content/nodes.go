// Package content содержит набор нод, правила ABM/LBM и типы объектов по умолчанию
package content

import (
	_ "embed"
	"fmt"

	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

//go:embed nodes.yaml
var defaultNodes []byte

// Имена встроенных нод
const (
	NodeStone      = "stone"
	NodeDirt       = "dirt"
	NodeGrass      = "dirt_with_grass"
	NodeWater      = "water"
	NodeLava       = "lava"
	NodeTorch      = "torch"
	NodeTrampoline = "trampoline"
)

// LoadNodes регистрирует определения нод из файла path.
// Пустой path - встроенный набор.
func LoadNodes(ndef *voxel.NodeDefManager, path string) (int, error) {
	var (
		cf  *voxel.ContentFile
		err error
	)
	if path == "" {
		cf, err = voxel.ParseContent(defaultNodes)
	} else {
		cf, err = voxel.LoadContentFile(path)
	}
	if err != nil {
		return 0, err
	}
	if err := cf.Register(ndef); err != nil {
		return 0, fmt.Errorf("регистрация контента: %w", err)
	}
	return len(cf.Nodes), nil
}
