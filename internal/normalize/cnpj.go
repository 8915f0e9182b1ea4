package normalize

import "fmt"

const (
	// CNPJLength is the number of digits in a full CNPJ
	CNPJLength = 14
	// BasicoLength is the number of digits shared by every branch of a company
	BasicoLength = 8
)

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// CleanCNPJ strips formatting: "12.345.678/0001-95" -> "12345678000195"
func CleanCNPJ(s string) string {
	return Digits(s)
}

// ValidCNPJ checks length and both mod-11 check digits of a cleaned CNPJ
func ValidCNPJ(cnpj string) bool {
	if len(cnpj) != CNPJLength {
		return false
	}
	allSame := true
	for i := 0; i < CNPJLength; i++ {
		if cnpj[i] < '0' || cnpj[i] > '9' {
			return false
		}
		if cnpj[i] != cnpj[0] {
			allSame = false
		}
	}
	if allSame {
		return false
	}

	if checkDigit(cnpj, cnpjWeights1) != int(cnpj[12]-'0') {
		return false
	}
	return checkDigit(cnpj, cnpjWeights2) == int(cnpj[13]-'0')
}

func checkDigit(cnpj string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(cnpj[i]-'0') * w
	}
	if rest := sum % 11; rest >= 2 {
		return 11 - rest
	}
	return 0
}

// FormatCNPJ renders a cleaned CNPJ as 00.000.000/0000-00; other inputs are returned unchanged
func FormatCNPJ(cnpj string) string {
	if len(cnpj) != CNPJLength {
		return cnpj
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", cnpj[0:2], cnpj[2:5], cnpj[5:8], cnpj[8:12], cnpj[12:14])
}

// Basico returns the 8 digit company root of a CNPJ
func Basico(cnpj string) string {
	if len(cnpj) < BasicoLength {
		return ""
	}
	return cnpj[:BasicoLength]
}
