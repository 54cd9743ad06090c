package market

// Series 是固定容量的K线窗口，按 OpenTime 递增。
type Series struct {
	capacity int
	candles  []Candle
}

func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = 1
	}
	return &Series{capacity: capacity, candles: make([]Candle, 0, capacity)}
}

// Upsert 写入一根K线：同一 OpenTime 覆盖（未收盘K线的实时更新），
// 更新的K线追加，过旧的忽略；超出容量时丢弃最早的。
func (s *Series) Upsert(c Candle) {
	n := len(s.candles)
	if n > 0 {
		last := s.candles[n-1]
		switch {
		case c.OpenTime == last.OpenTime:
			s.candles[n-1] = c
			return
		case c.OpenTime < last.OpenTime:
			return
		}
	}
	if n == s.capacity {
		copy(s.candles, s.candles[1:])
		s.candles = s.candles[:n-1]
	}
	s.candles = append(s.candles, c)
}

// Load 用历史数据整体替换窗口，只保留最新的 capacity 根。
func (s *Series) Load(candles []Candle) {
	if len(candles) > s.capacity {
		candles = candles[len(candles)-s.capacity:]
	}
	s.candles = append(s.candles[:0], candles...)
}

func (s *Series) Len() int { return len(s.candles) }

// Copy 返回独立副本，调用方可自由持有。
func (s *Series) Copy() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

func (s *Series) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}
