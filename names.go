package main

import (
	"math/rand/v2"
	"strings"
	"unicode/utf8"
)

const maxNameLength = 32

var (
	nameAdjectives = []string{
		"Лихой", "Модный", "Чудной", "Тихий", "Бодрый", "Хитрый",
		"Смелый", "Весёлый", "Сонный", "Шустрый", "Важный", "Добрый",
	}
	nameAnimals = []string{
		"Енот", "Олень", "Хомяк", "Попугай", "Барсук", "Ёж",
		"Кот", "Лис", "Филин", "Бобёр", "Тюлень", "Суслик",
	}
)

// randomName builds a default display name for players who did not pick one.
func randomName() string {
	return nameAdjectives[rand.IntN(len(nameAdjectives))] + " " + nameAnimals[rand.IntN(len(nameAnimals))]
}

// cleanName trims a requested display name and checks its length in runes.
func cleanName(s string) (string, error) {
	name := strings.Join(strings.Fields(s), " ")
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", ErrBadName
	}
	return name, nil
}
