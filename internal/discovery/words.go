package discovery

// sessionWords is the pool session strings are drawn three at a time
// from: three lowercase English words separated by hyphens, e.g.
// quiet-maple-heron. Kept short and easy to read aloud.
var sessionWords = []string{
	"quiet", "bright", "amber", "coral", "misty", "rapid", "silent", "golden",
	"violet", "cosmic", "gentle", "lunar", "solar", "vivid", "hollow", "crisp",
	"dusty", "frosty", "sunny", "cloudy", "rusty", "ashen", "ember", "ivory",
	"jade", "onyx", "slate", "clay", "birch", "cedar", "maple", "willow",
	"heron", "falcon", "otter", "badger", "raven", "finch", "swan", "lynx",
	"mole", "hawk", "wren", "fox", "bear", "wolf", "deer", "owl",
	"river", "canyon", "meadow", "harbor", "desert", "glacier", "valley", "summit",
	"island", "forest", "prairie", "delta", "ridge", "cove", "plateau", "marsh",
	"ember", "spark", "flame", "frost", "storm", "breeze", "tide", "drift",
	"lumen", "nova", "orbit", "comet", "nebula", "zenith", "horizon", "aurora",
	"anchor", "compass", "lantern", "beacon", "harbor", "bridge", "tunnel", "gate",
	"copper", "bronze", "silver", "pewter", "quartz", "marble", "granite", "basalt",
	"maple", "cedar", "elm", "fern", "moss", "reed", "thorn", "vine",
	"whisper", "echo", "murmur", "ripple", "glimmer", "shimmer", "flicker", "gleam",
}
