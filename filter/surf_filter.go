package filter

import (
	"github.com/xiaoxuxiansheng/golsm-filterbench/surf"
)

const surfFilterName = "golsm.BuiltinSuRF"

// 基于 SuRF 简洁字典树的过滤器，支持单点判定和范围判定.
// filter 数据自描述，不同后缀配置生成的数据可以互相读取，因此共用一个名称
type SuRFFilter struct {
	opts surf.Options
}

func NewSuRFFilter(opts surf.Options) *SuRFFilter {
	return &SuRFFilter{opts: opts}
}

func (s *SuRFFilter) Name() string {
	return surfFilterName
}

func (s *SuRFFilter) Options() surf.Options {
	return s.opts
}

func (s *SuRFFilter) CreateFilter(keys [][]byte) []byte {
	return surf.New(keys, s.opts).Serialize()
}

func (s *SuRFFilter) MayMatch(key, filter []byte) bool {
	trie, err := surf.Deserialize(filter)
	if err != nil {
		// 无法解析的 filter 不能用来否定 key
		return true
	}
	return trie.LookupKey(key)
}

func (s *SuRFFilter) RangeMayMatch(start, end, filter []byte) bool {
	trie, err := surf.Deserialize(filter)
	if err != nil {
		return true
	}
	return trie.LookupRange(start, end)
}
