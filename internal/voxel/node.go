package voxel

// Content - идентификатор типа ноды
type Content uint16

// Зарезервированные идентификаторы
const (
	ContentUnknown Content = 125
	ContentAir     Content = 126
	ContentIgnore  Content = 127
)

const (
	// LightMax - максимальный свет от источника (солнце не моделируется)
	LightMax uint8 = 14
	lightMask      = 0x0F
)

// Node - одна клетка воксельной сетки
type Node struct {
	Content Content
	Param1  uint8
	Param2  uint8
}

// NewNode создает ноду заданного типа без параметров
func NewNode(c Content) Node {
	return Node{Content: c}
}

// Light возвращает уровень света, хранящийся в младших битах Param1
func (n Node) Light() uint8 {
	return n.Param1 & lightMask
}

// WithLight возвращает копию ноды с новым уровнем света
func (n Node) WithLight(l uint8) Node {
	if l > LightMax {
		l = LightMax
	}
	n.Param1 = (n.Param1 &^ lightMask) | l
	return n
}
