package speech

import "strings"

// DefaultVoice 未配置音色时使用的英文音色
const DefaultVoice = "en_female_amy_jupiter_bigtts"

// 火山 TTS 资源 ID：1.0 音色、2.0 大模型音色、声音复刻
const (
	resourceTTSV1    = "volc.service_type.10029"
	resourceTTSSeed  = "seed-tts-2.0"
	resourceTTSClone = "volc.megatts.default"
)

// voiceAliases 助手 ID 或简称到火山音色的映射
var voiceAliases = map[string]string{
	"english-tutor": "en_female_skye_emo_v2_mars_bigtts",
	"grammar-coach": "en_male_glen_emo_v2_mars_bigtts",
	"en_default":    DefaultVoice,
	"en_female":     "en_female_candice_emo_v2_mars_bigtts",
	"en_male":       "en_male_corey_emo_v2_mars_bigtts",
}

// 2.0 音色名里常见的片段
var seedVoiceHints = []string{"bigtts", "seed", "megatts", "mars", "jupiter", "saturn", "uranus", "venus", "neptune", "mercury", "pluto"}

// NormalizeVoiceAlias 将别名解析为音色 ID，未知值原样返回
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if mapped, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

// ttsAttempt 一次合成尝试：音色与资源的组合
type ttsAttempt struct {
	speaker  string
	resource string
}

// planTTSAttempts 先请求的音色后兜底音色，每个音色按可能的资源依次尝试
func planTTSAttempts(requested, fallback string) []ttsAttempt {
	var plan []ttsAttempt
	for _, speaker := range ttsSpeakers(requested, fallback) {
		for _, resource := range ttsResourcesFor(speaker) {
			plan = append(plan, ttsAttempt{speaker: speaker, resource: resource})
		}
	}
	return plan
}

func ttsSpeakers(requested, fallback string) []string {
	var speakers []string
	for _, candidate := range []string{requested, fallback} {
		candidate = NormalizeVoiceAlias(candidate)
		if candidate == "" || containsFold(speakers, candidate) {
			continue
		}
		speakers = append(speakers, candidate)
	}
	if len(speakers) == 0 {
		return []string{DefaultVoice}
	}
	return speakers
}

func ttsResourcesFor(speaker string) []string {
	speaker = strings.TrimSpace(speaker)
	if strings.HasPrefix(speaker, "S_") {
		return []string{resourceTTSClone}
	}

	lower := strings.ToLower(speaker)
	for _, hint := range seedVoiceHints {
		if strings.Contains(lower, hint) {
			return []string{resourceTTSSeed, resourceTTSV1}
		}
	}
	return []string{resourceTTSV1, resourceTTSSeed}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
