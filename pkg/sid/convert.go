package sid

const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func IntToBase62(n int) string {
	if n == 0 {
		return string(base62Chars[0])
	}

	var result []byte
	for n > 0 {
		result = append(result, base62Chars[n%62])
		n /= 62
	}

	// 反转字符串
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return string(result)
}
