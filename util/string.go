package util

// 两个 key 的公共前缀长度
func SharedPrefixLen(a, b []byte) int {
	var i int
	for ; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			break
		}
	}
	return i
}

// 返回结果 x，保证 a <= x < b. 使用方需要自行保证 a < b
func GetSeparatorBetween(a, b []byte) []byte {
	if len(a) > 0 {
		// 返回 a 即可
		return a
	}

	// a 为空，需要返回一个严格比 b 小的结果
	if len(b) == 0 {
		return []byte{}
	}

	sepatator := make([]byte, len(b))
	copy(sepatator, b)
	// 末位为 0 时不能减 1（会回绕成 0xff），截掉末位得到 b 的真前缀，同样严格小于 b
	if sepatator[len(b)-1] == 0 {
		return sepatator[:len(b)-1]
	}
	sepatator[len(b)-1]--
	return sepatator
}
