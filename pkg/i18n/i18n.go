package i18n

import "strings"

var translations = map[string]map[string]string{
	"fa": {
		"failed to fetch conversations":    "خطا در دریافت مکالمه ها",
		"failed to open conversation":      "خطا در باز کردن مکالمه",
		"failed to fetch messages":         "خطا در دریافت پیام ها",
		"failed to send message":           "خطا در ارسال پیام",
		"failed to upload file":            "خطا در بارگذاری فایل",
		"failed to update message":         "خطا در به روزرسانی پیام",
		"failed to delete message":         "خطا در حذف پیام",
		"failed to download file":          "خطا در دریافت فایل",
		"downloaded file is empty":         "فایل دریافتی خالی است",
		"failed to update conversation":    "خطا در به روزرسانی مکالمه",
		"failed to delete conversation":    "خطا در حذف مکالمه",
		"failed to fetch recipients":       "خطا در دریافت مخاطبین",
		"failed to fetch groups":           "خطا در دریافت گروه ها",
		"failed to search messages":        "خطا در جستجوی پیام ها",
		"file too large":                   "حجم فایل بیش از حد مجاز است",
		"no conversation selected":         "هیچ مکالمه ای انتخاب نشده است",
		"message can no longer be changed": "امکان تغییر این پیام دیگر وجود ندارد",
		"admin only":                       "فقط مدیر به این بخش دسترسی دارد",
		"not signed in":                    "وارد حساب کاربری نشده اید",
		"message not found":                "پیام یافت نشد",
		"conversation not found":           "مکالمه یافت نشد",
		"rate limit exceeded":              "تعداد درخواست ها بیش از حد مجاز است",
	},
	"fr": {
		"failed to fetch conversations":    "Impossible de charger les conversations",
		"failed to open conversation":      "Impossible d'ouvrir la conversation",
		"failed to fetch messages":         "Impossible de charger les messages",
		"failed to send message":           "Échec de l'envoi du message",
		"failed to upload file":            "Échec de l'envoi du fichier",
		"failed to update message":         "Impossible de modifier le message",
		"failed to delete message":         "Impossible de supprimer le message",
		"failed to download file":          "Échec du téléchargement",
		"downloaded file is empty":         "Le fichier téléchargé est vide",
		"failed to update conversation":    "Impossible de modifier la conversation",
		"failed to delete conversation":    "Impossible de supprimer la conversation",
		"failed to fetch recipients":       "Impossible de charger les destinataires",
		"failed to fetch groups":           "Impossible de charger les groupes",
		"failed to search messages":        "La recherche a échoué",
		"file too large":                   "Le fichier dépasse la taille maximale (50 Mo)",
		"no conversation selected":         "Aucune conversation sélectionnée",
		"message can no longer be changed": "Ce message ne peut plus être modifié",
		"admin only":                       "Action réservée aux administrateurs",
		"not signed in":                    "Vous n'êtes pas connecté",
		"message not found":                "Message introuvable",
		"conversation not found":           "Conversation introuvable",
		"rate limit exceeded":              "Trop de requêtes, réessayez plus tard",
	},
}

var prefixTranslations = map[string]map[string]string{
	"fa": {
		"failed to fetch conversations:": "خطا در دریافت مکالمه ها",
		"failed to send message:":        "خطا در ارسال پیام",
		"failed to upload file:":         "خطا در بارگذاری فایل",
		"failed to download file:":       "خطا در دریافت فایل",
	},
	"fr": {
		"failed to fetch conversations:": "Impossible de charger les conversations",
		"failed to send message:":        "Échec de l'envoi du message",
		"failed to upload file:":         "Échec de l'envoi du fichier",
		"failed to download file:":       "Échec du téléchargement",
	},
}

// Translate returns message in locale. Unknown locales and messages are
// returned unchanged.
func Translate(locale, message string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}

	if translated, ok := translations[locale][message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations[locale] {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}

// Translator binds a locale for repeated use.
type Translator func(message string) string

func For(locale string) Translator {
	return func(message string) string {
		return Translate(locale, message)
	}
}
