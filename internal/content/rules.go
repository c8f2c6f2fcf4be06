package content

import (
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world/modifier"
)

// RuleRegistrar - куда регистрируются правила (world.Environment)
type RuleRegistrar interface {
	AddABM(abm modifier.ABM)
	AddLBM(def *modifier.LBMDef) error
}

// GrassSpreadABM превращает землю рядом с травой в траву, если над ней проходит свет
func GrassSpreadABM() *modifier.ABMDef {
	return &modifier.ABMDef{
		Name:      "default:grass_spread",
		Nodenames: []string{NodeDirt},
		Neighbors: []string{NodeGrass},
		Interval:  6,
		Chance:    50,
		CatchUp:   true,
		Action: func(env modifier.Environment, p vec.Vec3, n voxel.Node, _, _ int) {
			m := env.Map()
			ndef := m.NodeDefs()
			above, ok := m.GetNode(p.Add(vec.Vec3{Y: 1}))
			if !ok || !ndef.Get(above.Content).LightPropagates {
				return
			}
			if grass, ok := ndef.GetID(NodeGrass); ok {
				m.SetNode(p, voxel.Node{Content: grass, Param1: n.Param1, Param2: n.Param2})
			}
		},
	}
}

// LavaCoolingABM застывает лаву в камень при соседстве с водой
func LavaCoolingABM() *modifier.ABMDef {
	return &modifier.ABMDef{
		Name:      "default:lava_cooling",
		Nodenames: []string{NodeLava},
		Neighbors: []string{NodeWater},
		Interval:  1,
		Chance:    1,
		Action: func(env modifier.Environment, p vec.Vec3, _ voxel.Node, _, _ int) {
			m := env.Map()
			if stone, ok := m.NodeDefs().GetID(NodeStone); ok {
				m.SetNode(p, voxel.NewNode(stone))
				// Лава светила: пересчитываем свет вокруг
				one := vec.Vec3{X: 1, Y: 1, Z: 1}
				voxel.PropagateLight(m, p.Sub(one.Scale(int(voxel.LightMax))), p.Add(one.Scale(int(voxel.LightMax))))
			}
		},
	}
}

// TorchLightLBM пересчитывает свет блоков с факелами, сохраненных до появления правила
func TorchLightLBM() *modifier.LBMDef {
	return &modifier.LBMDef{
		Name:            "default:torch_light_fix",
		TriggerContents: []string{NodeTorch},
		Trigger: func(env modifier.Environment, block *voxel.Block, positions []vec.Vec3, _ float64) {
			if len(positions) == 0 {
				return
			}
			origin := block.PosRelative()
			last := vec.Vec3{X: vec.BlockSize - 1, Y: vec.BlockSize - 1, Z: vec.BlockSize - 1}
			voxel.PropagateLight(env.Map(), origin, origin.Add(last))
		},
	}
}

// RegisterRules добавляет встроенные ABM и LBM. Вызывается до загрузки метаданных окружения.
func RegisterRules(r RuleRegistrar) error {
	r.AddABM(GrassSpreadABM())
	r.AddABM(LavaCoolingABM())
	return r.AddLBM(TorchLightLBM())
}
