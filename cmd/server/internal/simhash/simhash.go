package simhash

import (
	"math/bits"

	"github.com/go-dedup/simhash"

	"github.com/houzhh15/meetscribe/cmd/server/internal/textnorm"
)

// NearDuplicateDistance 段落近似重复阈值：汉明距离<=3视为近似重复
const NearDuplicateDistance = 3

// ParagraphFeatureSet 实现 simhash.FeatureSet 接口，用于转写段落的特征提取
type ParagraphFeatureSet struct {
	text string
}

// GetFeatures 提取文本特征
// 使用归一化后的词级 bigram（shingle），短文本补充单词特征
func (p ParagraphFeatureSet) GetFeatures() []simhash.Feature {
	words := textnorm.Words(p.text)
	if len(words) == 0 {
		return []simhash.Feature{}
	}

	features := make([]simhash.Feature, 0, len(words))
	for i := 0; i+1 < len(words); i++ {
		features = append(features, simhash.NewFeature([]byte(words[i]+" "+words[i+1])))
	}

	// 文本很短（<4个词）时添加单词特征增强区分度
	if len(words) < 4 {
		for _, w := range words {
			features = append(features, simhash.NewFeature([]byte(w)))
		}
	}
	return features
}

// CalculateSimHash 计算文本的 SimHash 指纹
func CalculateSimHash(text string) uint64 {
	sh := simhash.NewSimhash()
	return sh.GetSimhash(ParagraphFeatureSet{text: text})
}

// HammingDistance 计算两个 SimHash 指纹的汉明距离（0-64）
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// IsNearDuplicate 判断两个段落是否近似重复
// 条件：汉明距离 <= maxDistance，且较短段落长度 / 较长段落长度 > minLengthRatio
func IsNearDuplicate(text1, text2 string, maxDistance int, minLengthRatio float64) bool {
	l1, l2 := len([]rune(text1)), len([]rune(text2))
	if l1 == 0 || l2 == 0 {
		return false
	}
	ratio := float64(min(l1, l2)) / float64(max(l1, l2))
	if ratio <= minLengthRatio {
		return false
	}
	return HammingDistance(CalculateSimHash(text1), CalculateSimHash(text2)) <= maxDistance
}
