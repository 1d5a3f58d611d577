package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// CalculateResourceHash 计算对象的哈希值
// 只包含业务字段，排除元数据字段
func CalculateResourceHash(obj interface{}) (string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}

	var objMap map[string]interface{}
	if err := json.Unmarshal(data, &objMap); err != nil {
		return "", err
	}

	excludeFields := []string{
		"id",
		"created_at",
		"updated_at",
		"metadata",
	}
	for _, field := range excludeFields {
		delete(objMap, field)
	}

	keys := make([]string, 0, len(objMap))
	for k := range objMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// json.Marshal 对 map 按 key 排序输出，这里显式拼接保证稳定
	var b strings.Builder
	for _, k := range keys {
		v, err := json.Marshal(objMap[k])
		if err != nil {
			return "", err
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
		b.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// TupleKey 计算 (owner, content, group) 三元组的定长键
// 作为 instance.active_key 的唯一索引值
func TupleKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		// 长度前缀避免 "a|bc" 与 "ab|c" 冲突
		h.Write([]byte{byte(len(p) >> 8), byte(len(p))})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
