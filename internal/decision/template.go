package decision

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"aitrader/internal/logger"

	"gopkg.in/yaml.v3"
)

// DefaultTemplate 是内置模板名，始终存在。
const DefaultTemplate = "default"

const defaultSystemPrompt = `你是一名加密货币永续合约交易员，基于给定的账户、行情与技术指标为单个币种给出一次交易决策。

规则：
- 只依据用户消息中的数据判断，不要臆测未提供的信息。
- 标记为 n/a 的指标表示数据不足，不要把它当作 0。
- 没有把握时选择 hold 或 wait，并给出较低的 confidence。
- 已有持仓时，buy/sell 表示与现有方向相反的信号会先平仓，close 表示平掉当前持仓。
- 表现反馈处于 cautious / cooldown 时应更加保守。

只输出一个 JSON 对象，不要输出其他内容：
{"symbol": "BTC/USDT", "action": "buy|sell|close|hold|wait", "confidence": 0-100, "reasoning": "引用具体指标的简短理由", "risk_level": "low|medium|high"}`

type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	System      string `yaml:"system"`
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// Library 是按名称索引的 system 提示词模板集合，可热替换。
type Library struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewLibrary() *Library {
	return &Library{templates: map[string]Template{
		DefaultTemplate: {Name: DefaultTemplate, Description: "built-in", System: defaultSystemPrompt},
	}}
}

// LoadLibrary 读取 YAML 模板库；path 为空时只含内置模板。
func LoadLibrary(path string) (*Library, error) {
	lib := NewLibrary()
	if strings.TrimSpace(path) == "" {
		return lib, nil
	}
	if err := lib.Reload(path); err != nil {
		return nil, err
	}
	return lib, nil
}

// Reload 整体替换文件中的模板，内置 default 可被同名模板覆盖。
func (l *Library) Reload(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompt library failed: %w", err)
	}
	var file templateFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("parse prompt library failed: %w", err)
	}
	next := map[string]Template{
		DefaultTemplate: {Name: DefaultTemplate, Description: "built-in", System: defaultSystemPrompt},
	}
	for i, tpl := range file.Templates {
		tpl.Name = strings.ToLower(strings.TrimSpace(tpl.Name))
		tpl.System = strings.TrimSpace(tpl.System)
		if tpl.Name == "" {
			return fmt.Errorf("prompt library templates[%d]: name 必填", i)
		}
		if tpl.System == "" {
			return fmt.Errorf("prompt library template %s: system 为空", tpl.Name)
		}
		next[tpl.Name] = tpl
	}
	l.mu.Lock()
	l.templates = next
	l.mu.Unlock()
	logger.Infof("prompt library loaded: %s (%d templates)", path, len(next))
	return nil
}

// Get 返回模板；未知名称回退到 default。
func (l *Library) Get(name string) Template {
	name = strings.ToLower(strings.TrimSpace(name))
	l.mu.RLock()
	defer l.mu.RUnlock()
	if tpl, ok := l.templates[name]; ok {
		return tpl
	}
	if name != "" {
		logger.Warnf("prompt template %q not found, fallback to %s", name, DefaultTemplate)
	}
	return l.templates[DefaultTemplate]
}

func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.templates))
	for name := range l.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
