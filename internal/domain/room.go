package domain

import "time"

// DeckType 表示房间使用的卡组类型。
type DeckType string

const (
	DeckFibonacci DeckType = "fibonacci"
	DeckTShirt    DeckType = "tshirt"
)

var deckCards = map[DeckType][]string{
	DeckFibonacci: {"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", "?"},
	DeckTShirt:    {"XS", "S", "M", "L", "XL", "XXL", "?"},
}

// Valid 判断卡组类型是否受支持
func (d DeckType) Valid() bool {
	_, ok := deckCards[d]
	return ok
}

// Cards 返回卡组中的牌面 (副本)
func (d DeckType) Cards() []string {
	cards := deckCards[d]
	out := make([]string, len(cards))
	copy(out, cards)
	return out
}

// Room 表示一个估算房间。Code 一经分配不可修改。
type Room struct {
	ID        uint                   `gorm:"primaryKey"`
	Code      string                 `gorm:"uniqueIndex;size:16;not null"` // 房间短码，唯一
	Name      string                 `gorm:"size:64;not null"`
	DeckType  DeckType               `gorm:"size:16;not null"`
	Settings  map[string]interface{} `gorm:"serializer:json;type:text"` // 房间设置，以 JSON 存储
	CreatedAt time.Time              `gorm:"autoCreateTime"`
}
