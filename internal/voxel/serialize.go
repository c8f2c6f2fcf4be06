package voxel

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/freeminer/freeminer-sub007/internal/diagnostics"
	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/vec"
)

const blockFormatVersion = 1

// blockRecord - формат блока в хранилище (msgpack, затем zstd)
type blockRecord struct {
	Version   uint8          `msgpack:"v"`
	Timestamp uint32         `msgpack:"ts"`
	Content   []uint16       `msgpack:"c"`
	Param1    []byte         `msgpack:"p1"`
	Param2    []byte         `msgpack:"p2"`
	Static    []StaticObject `msgpack:"so"`
}

var (
	// EncodeAll/DecodeAll безопасны для конкурентного использования
	blockEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blockDecoder, _ = zstd.NewReader(nil)
)

// SerializeBlock упаковывает ноды, отметку времени и статические объекты блока
func SerializeBlock(b *Block) ([]byte, error) {
	var nodes [NodesPerBlock]Node
	b.CopyNodes(&nodes)

	rec := blockRecord{
		Version:   blockFormatVersion,
		Timestamp: b.Timestamp(),
		Content:   make([]uint16, NodesPerBlock),
		Param1:    make([]byte, NodesPerBlock),
		Param2:    make([]byte, NodesPerBlock),
		Static:    b.StaticObjects.All(),
	}
	for i, n := range nodes {
		rec.Content[i] = uint16(n.Content)
		rec.Param1[i] = n.Param1
		rec.Param2[i] = n.Param2
	}

	raw, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации блока %s: %w", b.Pos(), err)
	}
	return blockEncoder.EncodeAll(raw, nil), nil
}

// DeserializeBlock восстанавливает блок из хранилища.
// Лишние статические объекты отбрасываются с предупреждением, а не ломают загрузку.
func DeserializeBlock(pos vec.Vec3, data []byte) (*Block, error) {
	raw, err := blockDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки блока %s: %w", pos, err)
	}

	var rec blockRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("ошибка разбора блока %s: %w", pos, err)
	}
	if rec.Version != blockFormatVersion {
		return nil, fmt.Errorf("блок %s: неподдерживаемая версия формата %d", pos, rec.Version)
	}
	if len(rec.Content) != NodesPerBlock || len(rec.Param1) != NodesPerBlock || len(rec.Param2) != NodesPerBlock {
		return nil, fmt.Errorf("блок %s: неверный размер массива нод", pos)
	}

	b := NewBlock(pos)
	b.Fill(func(rel vec.Vec3) Node {
		i := index(rel)
		return Node{Content: Content(rec.Content[i]), Param1: rec.Param1[i], Param2: rec.Param2[i]}
	})

	static := rec.Static
	if len(static) > MaxStaticObjectsOnLoad {
		logging.GetStorageLogger().Warn("Block %s: too many static objects (%d), truncating to %d",
			pos, len(static), MaxStaticObjectsOnLoad)
		diagnostics.Process().CorruptBlock()
		static = static[:MaxStaticObjectsOnLoad]
	}
	for _, obj := range static {
		b.StaticObjects.PushStored(obj)
	}

	b.SetTimestampNoChangedFlag(rec.Timestamp)
	b.diskTimestamp.Store(rec.Timestamp)
	return b, nil
}
