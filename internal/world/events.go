package world

import "github.com/freeminer/freeminer-sub007/internal/world/object"

// Типы исходящих событий окружения
const (
	EventObjectMessage   = "object_message"
	EventObjectRemoveAdd = "object_remove_add"
	EventBlockActivated  = "block_activated"
)

// eventSource - поле Source исходящих событий
const eventSource = "env"

// ObjectMessageEvent - сообщение активного объекта для клиентов
type ObjectMessageEvent struct {
	ObjectID uint16 `msgpack:"id" json:"id"`
	Reliable bool   `msgpack:"r" json:"reliable"`
	Data     []byte `msgpack:"d" json:"data"`
}

// RemovedObject - объект, который игрок перестает видеть
type RemovedObject struct {
	ID uint16 `msgpack:"id" json:"id"`
	// Gone - объект удален из мира, а не просто вышел из радиуса
	Gone bool `msgpack:"g" json:"gone"`
}

// AddedObject - объект, который игрок начинает видеть
type AddedObject struct {
	ID   uint16      `msgpack:"id" json:"id"`
	Type object.Type `msgpack:"t" json:"type"`
}

// ObjectRemoveAddEvent - изменение набора видимых игроку объектов
type ObjectRemoveAddEvent struct {
	Player  string          `msgpack:"p" json:"player"`
	Removed []RemovedObject `msgpack:"rm" json:"removed"`
	Added   []AddedObject   `msgpack:"add" json:"added"`
}

// BlockActivatedEvent - блок стал активным
type BlockActivatedEvent struct {
	X      int    `msgpack:"x" json:"x"`
	Y      int    `msgpack:"y" json:"y"`
	Z      int    `msgpack:"z" json:"z"`
	DTimeS uint32 `msgpack:"dt" json:"dtime_s"`
}
