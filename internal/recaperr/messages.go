package recaperr

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys double as the English text.
const (
	msgNoImages           = "No images selected. Please choose at least one photo."
	msgTooManyImages      = "Too many images selected. Please choose at most 50 photos."
	msgInvalidSettings    = "Invalid video settings. Please check duration, size and frame rate."
	msgInvalidPhotos      = "Some photos cannot be used. Please choose photos from the web or upload them directly."
	msgUnsupportedRuntime = "Video creation is not supported on this system."
	msgResourceAllocation = "Could not allocate resources for the video. Try fewer images or free up memory."
	msgEncoderInit        = "No supported video format is available for encoding."
	msgImageLoad          = "Could not load image %d. Please check the photo and try again."
	msgEmptyOutput        = "Video encoding produced no data. Please try again."
	msgCorruptOutput      = "The generated video is empty or corrupted. Please try again."
	msgMemoryPressure     = "Not enough memory to create the video. Try fewer images or a smaller size."
	msgTimeout            = "Video creation took too long and was stopped. Try fewer images."
	msgEncoding           = "Something went wrong while creating the video. Please try again."
	msgCancelled          = "Video creation was cancelled."
)

var spanish = map[string]string{
	msgNoImages:           "No se seleccionaron imágenes. Elige al menos una foto.",
	msgTooManyImages:      "Demasiadas imágenes seleccionadas. Elige como máximo 50 fotos.",
	msgInvalidSettings:    "Configuración de vídeo no válida. Revisa la duración, el tamaño y la velocidad de fotogramas.",
	msgInvalidPhotos:      "Algunas fotos no se pueden usar. Elige fotos de la web o súbelas directamente.",
	msgUnsupportedRuntime: "La creación de vídeos no es compatible con este sistema.",
	msgResourceAllocation: "No se pudieron reservar recursos para el vídeo. Prueba con menos imágenes o libera memoria.",
	msgEncoderInit:        "No hay ningún formato de vídeo compatible disponible para codificar.",
	msgImageLoad:          "No se pudo cargar la imagen %d. Revisa la foto e inténtalo de nuevo.",
	msgEmptyOutput:        "La codificación del vídeo no produjo datos. Inténtalo de nuevo.",
	msgCorruptOutput:      "El vídeo generado está vacío o dañado. Inténtalo de nuevo.",
	msgMemoryPressure:     "No hay memoria suficiente para crear el vídeo. Prueba con menos imágenes o un tamaño menor.",
	msgTimeout:            "La creación del vídeo tardó demasiado y se detuvo. Prueba con menos imágenes.",
	msgEncoding:           "Algo salió mal al crear el vídeo. Inténtalo de nuevo.",
	msgCancelled:          "Se canceló la creación del vídeo.",
}

// Supported lists the languages messages are available in; the first entry is the fallback.
var Supported = []language.Tag{language.English, language.Spanish}

var (
	messages = newCatalog()
	matcher  = language.NewMatcher(Supported)
)

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, es := range spanish {
		_ = b.SetString(language.English, key, key)
		_ = b.SetString(language.Spanish, key, es)
	}
	return b
}

// MatchLanguage picks the best supported language for an Accept-Language header value.
func MatchLanguage(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return Supported[idx]
}

// Message returns the English message.
func (e *Error) Message() string {
	return e.Localize(language.English)
}

// Localize returns the message in the given language, falling back to English.
func (e *Error) Localize(tag language.Tag) string {
	return Localize(e.Kind, e.Detail, e.Index, tag)
}

// Localize renders the message for a kind without an *Error value, e.g. from a
// persisted job record.
func Localize(kind Kind, detail Detail, index int, tag language.Tag) string {
	p := message.NewPrinter(tag, message.Catalog(messages))
	key := messageKey(kind, detail)
	if kind == KindImageLoad {
		return p.Sprintf(key, index)
	}
	return p.Sprintf(key)
}

func messageKey(kind Kind, detail Detail) string {
	switch kind {
	case KindValidation:
		switch detail {
		case DetailNoImages:
			return msgNoImages
		case DetailTooManyImages:
			return msgTooManyImages
		case DetailInvalidPhotos:
			return msgInvalidPhotos
		default:
			return msgInvalidSettings
		}
	case KindUnsupportedRuntime:
		return msgUnsupportedRuntime
	case KindResourceAllocation:
		return msgResourceAllocation
	case KindEncoderInit:
		return msgEncoderInit
	case KindImageLoad:
		return msgImageLoad
	case KindEmptyOutput:
		return msgEmptyOutput
	case KindCorruptOutput:
		return msgCorruptOutput
	case KindMemoryPressure:
		return msgMemoryPressure
	case KindTimeout:
		return msgTimeout
	case KindCancelled:
		return msgCancelled
	default:
		return msgEncoding
	}
}
