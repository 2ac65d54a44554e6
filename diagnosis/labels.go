package diagnosis

import (
	"fmt"
	"os"
	"strings"
)

// PlaceholderLabel is a dataset artifact the model was trained with; it never names a disease.
const PlaceholderLabel = "Grape_Plant_from_Plant_Village_Dataset"

// DefaultLabels is the class table in model output order.
var DefaultLabels = []string{
	PlaceholderLabel,
	"Grape___Black_rot",
	"Grape___Esca_(Black_Measles)",
	"Grape___Leaf_blight_(Isariopsis_Leaf_Spot)",
	"Grape___healthy",
	"Rice_Bacterial_leaf_blight",
	"Rice_Brown_spot",
	"Rice_Leaf_smut",
	"Sugarcane_Healthy",
	"Sugarcane_Mosaic",
	"Sugarcane_RedRot",
	"Sugarcane_Rust",
	"Sugarcane_Yellow",
	"Tomato_Bacterial_spot",
	"Tomato_Early_blight",
	"Tomato_Late_blight",
	"Tomato_Leaf_Mold",
	"Tomato_Septoria_leaf_spot",
	"Tomato_Spider_mites_Two_spotted_spider_mite",
	"Tomato_Target_Spot",
	"Tomato_Tomato_YellowLeaf__Curl_Virus",
	"Tomato_Tomato_mosaic_virus",
	"Tomato_healthy",
}

// Crops are the selectable crops, in display order.
var Crops = []string{"Rice", "Sugarcane", "Tomato", "Grape"}

// NormalizeCrop maps a user supplied crop name onto an entry of Crops.
func NormalizeCrop(crop string) (string, bool) {
	crop = strings.TrimSpace(crop)
	for _, c := range Crops {
		if strings.EqualFold(c, crop) {
			return c, true
		}
	}
	return "", false
}

// ReadLabels loads a label table, one label per line, blank lines ignored.
func ReadLabels(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, l := range strings.Split(string(b), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels in %s", path)
	}
	return labels, nil
}

// Pretty turns a class label into display text, e.g. "Tomato_Late_blight" -> "Tomato Late blight".
func Pretty(label string) string {
	return strings.Join(strings.FieldsFunc(label, func(r rune) bool { return r == '_' }), " ")
}
