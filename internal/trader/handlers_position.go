package trader

import "sync"

// InFlight 保证同一 trader 对同一 symbol 最多只有一个执行中的订单计划。
type InFlight struct {
	mu      sync.Mutex
	symbols map[string]string
}

func NewInFlight() *InFlight {
	return &InFlight{symbols: make(map[string]string)}
}

// Acquire 为 symbol 登记计划；已有计划在途时返回 false。
func (f *InFlight) Acquire(symbol, planID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.symbols[symbol]; busy {
		return false
	}
	f.symbols[symbol] = planID
	return true
}

// Release 只释放同一个计划登记的占用。
func (f *InFlight) Release(symbol, planID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.symbols[symbol]; ok && cur == planID {
		delete(f.symbols, symbol)
	}
}

func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.symbols)
}
