package pairing

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// codeWords is a fixed word list used to render pairing codes as three
// human-readable, easy-to-read-aloud words (§4.E: "short human-readable
// strings... with enough entropy that brute-force within the 10-minute
// window is infeasible"). 256 words gives 256^3 = ~16.7M combinations;
// combined with the 10-minute session TTL and single-use enforcement, an
// attacker gets at most a handful of guesses over the network before the
// session is garbage-collected.
var codeWords = [256]string{
	"amber", "anchor", "apple", "arrow", "ash", "aspen", "atlas", "autumn",
	"badge", "banjo", "basil", "beacon", "berry", "birch", "bison", "blaze",
	"bloom", "blue", "boat", "bolt", "bone", "boulder", "brave", "breeze",
	"bridge", "bright", "brook", "cabin", "cactus", "camp", "canyon", "cedar",
	"chalk", "charm", "cider", "cliff", "cloud", "clover", "coal", "coast",
	"cobalt", "comet", "copper", "coral", "cove", "crane", "crater", "creek",
	"crest", "crow", "crown", "crystal", "dawn", "delta", "desert", "dew",
	"diamond", "dock", "dolphin", "drift", "dune", "dusk", "eagle", "echo",
	"ember", "falcon", "fawn", "feather", "fern", "field", "fin", "fjord",
	"flame", "flint", "flora", "flow", "flute", "fog", "forest", "forge",
	"fox", "frost", "garnet", "gem", "glacier", "glade", "gold", "grain",
	"granite", "grape", "grove", "gull", "harbor", "harp", "hawk", "haze",
	"heath", "hemlock", "heron", "hill", "holly", "horizon", "hyacinth", "ice",
	"indigo", "ion", "iris", "ivory", "ivy", "jade", "jasper", "jay",
	"juniper", "kelp", "kestrel", "lagoon", "lake", "lantern", "larch", "lark",
	"laurel", "leaf", "lichen", "lily", "linen", "lodge", "loom", "lotus",
	"lumen", "lunar", "lupine", "lynx", "magma", "maple", "marble", "marsh",
	"meadow", "mesa", "mica", "mint", "mist", "moon", "moss", "moth",
	"mountain", "myrtle", "nectar", "nest", "nova", "oak", "oasis", "obsidian",
	"ocean", "olive", "onyx", "opal", "orbit", "orchid", "osprey", "otter",
	"owl", "oxide", "palm", "pearl", "pebble", "petal", "phlox", "pine",
	"plain", "planet", "plateau", "plum", "pond", "poplar", "prairie", "prism",
	"quartz", "quill", "rain", "raven", "reed", "reef", "relic", "ridge",
	"river", "robin", "rose", "rust", "sage", "sail", "sand", "sapphire",
	"savanna", "sedge", "shale", "shell", "shore", "silt", "sky", "slate",
	"sloop", "snow", "sorrel", "spark", "sparrow", "spring", "spruce", "star",
	"stone", "storm", "stream", "summit", "sun", "sunrise", "swallow", "swan",
	"tarn", "teal", "terra", "thistle", "thorn", "thrush", "tide", "timber",
	"topaz", "torch", "trail", "tundra", "tusk", "valley", "vapor", "velvet",
	"vine", "violet", "vista", "wave", "wheat", "willow", "wind", "wing",
	"wolf", "wood", "wren", "yarrow", "yew", "zephyr", "zinc", "zircon",
	"acorn", "bark", "basin", "dusty", "elm", "feral", "grit", "husk",
}

// GenerateCode produces a fresh three-word pairing code from codeWords.
func GenerateCode() (string, error) {
	indices := make([]byte, 3)
	if _, err := rand.Read(indices); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	words := make([]string, 3)
	for i, idx := range indices {
		words[i] = codeWords[idx]
	}
	return strings.Join(words, "-"), nil
}
