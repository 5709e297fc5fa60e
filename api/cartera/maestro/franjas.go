package maestro

// Aging buckets. The numeric prefix keeps them in order when sorted as strings.
const (
	SinClasificar = "Sin Clasificar"
	Corriente     = "0- Corriente"
)

// FranjaCyres maps days past due to the internal ("cyres") bucket taxonomy.
func FranjaCyres(dias int) string {
	switch {
	case dias < -1:
		return Corriente
	case dias == -1:
		return "1- Vence mañana"
	case dias == 0:
		return "2- Vence hoy"
	case dias == 1:
		return "3- Venció ayer"
	case dias <= 4:
		return "4- 2 a 4"
	case dias <= 7:
		return "5- 5 a 7"
	case dias <= 14:
		return "6- 8 a 14"
	case dias <= 21:
		return "7- 15 a 21"
	case dias <= 30:
		return "8- 22 a 30"
	}
	return "9- Mayor a 30"
}

// FranjaCoca maps days past due to the client's ("coca-cola") taxonomy.
func FranjaCoca(dias int) string {
	switch {
	case dias <= 0:
		return Corriente
	case dias <= 7:
		return "1- 1 a 7"
	case dias <= 14:
		return "2- 8 a 14"
	case dias <= 21:
		return "3- 15 a 21"
	case dias <= 30:
		return "4- 22 a 30"
	}
	return "5- Mayor a 30"
}
